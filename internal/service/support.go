package service

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/serverkit/installer/internal/joblog"
	"github.com/serverkit/installer/internal/store"
	"github.com/serverkit/installer/internal/sysinfo"
)

type FactsFunc func(ctx context.Context) (sysinfo.Facts, error)

// SupportService exposes the session logs and packs them, together with
// host facts, into a bundle users can attach to a support request.
type SupportService struct {
	logs  *joblog.Manager
	store store.Job
	facts FactsFunc
	now   func() time.Time
}

func NewSupportService(logs *joblog.Manager, s store.Job, facts FactsFunc) *SupportService {
	return &SupportService{logs: logs, store: s, facts: facts, now: time.Now}
}

// Logs returns the raw content of one log channel of the session.
func (s *SupportService) Logs(ctx context.Context, sessionID string, channel string) (string, error) {
	c, err := joblog.ParseChannel(channel)
	if err != nil {
		return "", NewErrInvalidLogChannel(channel)
	}
	logger, err := s.logs.Logger(sessionID)
	if err != nil {
		if errors.Is(err, joblog.ErrInvalidSession) {
			return "", NewErrJobNotFound(sessionID)
		}
		return "", err
	}
	return logger.Retrieve(c)
}

// BundleName is the file name offered for the bundle of sessionID.
func (s *SupportService) BundleName(sessionID string) string {
	return fmt.Sprintf("installer-support-%s-%s.zip", sessionID, s.now().UTC().Format("20060102-150405"))
}

// WriteBundle writes a zip archive with the three log channels of the
// session, the job state and the host facts.
func (s *SupportService) WriteBundle(ctx context.Context, sessionID string, w io.Writer) error {
	logger, err := s.logs.Logger(sessionID)
	if err != nil {
		if errors.Is(err, joblog.ErrInvalidSession) {
			return NewErrJobNotFound(sessionID)
		}
		return err
	}

	zw := zip.NewWriter(w)

	for _, c := range []joblog.Channel{joblog.ChannelMain, joblog.ChannelError, joblog.ChannelDebug} {
		content, err := logger.Retrieve(c)
		if err != nil {
			return fmt.Errorf("reading %s log: %w", c, err)
		}
		if err := addFile(zw, fmt.Sprintf("logs/%s.log", c), []byte(content)); err != nil {
			return err
		}
	}

	info := map[string]any{
		"session_id":   sessionID,
		"generated_at": s.now().UTC(),
	}
	if job, err := s.store.Get(sessionID); err == nil {
		info["job"] = job
	}
	if s.facts != nil {
		facts, err := s.facts(ctx)
		if err != nil {
			zap.S().Named("support_service").Debugw("incomplete host facts", "error", err)
			info["system_error"] = err.Error()
		}
		info["system"] = facts
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding support information: %w", err)
	}
	if err := addFile(zw, "support.json", data); err != nil {
		return err
	}

	return zw.Close()
}

func addFile(zw *zip.Writer, name string, data []byte) error {
	f, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("adding %s to bundle: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("writing %s to bundle: %w", name, err)
	}
	return nil
}
