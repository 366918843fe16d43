// Package joblog keeps the per-session installation logs. Each session gets
// three append-only channels on disk: the main log, an error-only mirror and a
// debug log.
package joblog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/serverkit/installer/internal/store/model"
)

type Channel string

const (
	ChannelMain  Channel = "main"
	ChannelError Channel = "error"
	ChannelDebug Channel = "debug"

	DefaultRetentionDays = 7
	timestampLayout      = "2006-01-02 15:04:05"
)

var (
	ErrInvalidSession = errors.New("invalid session id")
	ErrInvalidChannel = errors.New("invalid log channel")

	sessionRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

	filePrefixes = map[Channel]string{
		ChannelMain:  "install_",
		ChannelError: "error_",
		ChannelDebug: "debug_",
	}
)

func ParseChannel(s string) (Channel, error) {
	c := Channel(strings.ToLower(s))
	if _, ok := filePrefixes[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidChannel, s)
	}
	return c, nil
}

func ValidSessionID(id string) bool {
	return sessionRegex.MatchString(id)
}

// Manager hands out one Logger per session so that every writer of a session
// shares the same append lock.
type Manager struct {
	dir     string
	now     func() time.Time
	mu      sync.Mutex
	loggers map[string]*Logger
}

func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory %s: %w", dir, err)
	}
	return &Manager{
		dir:     dir,
		now:     func() time.Time { return time.Now().UTC() },
		loggers: make(map[string]*Logger),
	}, nil
}

// WithClock overrides the time source. Used by tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

func (m *Manager) Dir() string {
	return m.dir
}

func (m *Manager) Logger(sessionID string) (*Logger, error) {
	if !ValidSessionID(sessionID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSession, sessionID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.loggers[sessionID]; ok {
		return l, nil
	}
	l := &Logger{
		sessionID: sessionID,
		now:       m.now,
		files:     make(map[Channel]string, len(filePrefixes)),
	}
	for c, prefix := range filePrefixes {
		l.files[c] = filepath.Join(m.dir, prefix+sessionID+".log")
	}
	m.loggers[sessionID] = l
	return l, nil
}

// Cleanup deletes log files last modified more than maxAgeDays ago and
// returns how many were removed.
func (m *Manager) Cleanup(maxAgeDays int) (int, error) {
	if maxAgeDays <= 0 {
		maxAgeDays = DefaultRetentionDays
	}
	files, err := filepath.Glob(filepath.Join(m.dir, "*.log"))
	if err != nil {
		return 0, err
	}
	cutoff := m.now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)

	var (
		removed int
		errs    []error
	)
	for _, f := range files {
		fi, err := os.Stat(f)
		if err != nil {
			if !os.IsNotExist(err) {
				errs = append(errs, err)
			}
			continue
		}
		if !fi.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		zap.S().Named("joblog").Infow("removed expired log files", "count", removed, "max_age_days", maxAgeDays)
	}
	return removed, errors.Join(errs...)
}

// Logger is the log sink of a single session.
type Logger struct {
	sessionID string
	now       func() time.Time
	files     map[Channel]string

	mu      sync.Mutex
	secrets []string
}

func (l *Logger) SessionID() string {
	return l.sessionID
}

// MinSecretLength is the shortest value AddSecrets masks. Shorter values
// would match inside unrelated words.
const MinSecretLength = 4

// AddSecrets registers values that must never appear in a message.
func (l *Logger) AddSecrets(values ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, v := range values {
		if len(v) >= MinSecretLength {
			l.secrets = append(l.secrets, v)
		}
	}
}

// Mask hides registered secret values in s.
func (l *Logger) Mask(s string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return MaskValues(s, l.secrets...)
}

// Write redacts context, stamps the entry and appends it to the channels of
// its level. The returned entry is the persisted, redacted one.
func (l *Logger) Write(level model.LogLevel, message string, context map[string]any) (model.LogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := model.LogEntry{
		Level:     level,
		Message:   MaskValues(message, l.secrets...),
		Context:   maskContext(Redact(context), l.secrets),
		Timestamp: l.now(),
	}

	line, err := formatLine(entry)
	if err != nil {
		return entry, err
	}

	var errs []error
	for _, c := range channelsFor(level) {
		if err := appendLine(l.files[c], line); err != nil {
			errs = append(errs, err)
		}
	}
	return entry, errors.Join(errs...)
}

func (l *Logger) Info(message string, context map[string]any) (model.LogEntry, error) {
	return l.Write(model.LogLevelInfo, message, context)
}

func (l *Logger) Warning(message string, context map[string]any) (model.LogEntry, error) {
	return l.Write(model.LogLevelWarning, message, context)
}

func (l *Logger) Error(message string, context map[string]any) (model.LogEntry, error) {
	return l.Write(model.LogLevelError, message, context)
}

func (l *Logger) Debug(message string, context map[string]any) (model.LogEntry, error) {
	return l.Write(model.LogLevelDebug, message, context)
}

// Command records an executed system command. A non-zero exit code is logged
// at error level and therefore mirrored to the error channel.
func (l *Logger) Command(command string, output string, exitCode int) (model.LogEntry, error) {
	level := model.LogLevelInfo
	if exitCode != 0 {
		level = model.LogLevelError
	}
	return l.Write(level, "Command executed: "+command, map[string]any{
		"command":     command,
		"output":      output,
		"return_code": exitCode,
		"success":     exitCode == 0,
	})
}

// Step records a provisioning step transition.
func (l *Logger) Step(number int, name string, status string, details map[string]any) (model.LogEntry, error) {
	return l.Write(model.LogLevelInfo, fmt.Sprintf("Step %d: %s - %s", number, name, status), map[string]any{
		"step_number": number,
		"step_name":   name,
		"status":      status,
		"details":     details,
	})
}

// Config writes a sanitized configuration snapshot to the debug channel.
func (l *Logger) Config(kind string, data map[string]any) (model.LogEntry, error) {
	return l.Write(model.LogLevelDebug, "Configuration: "+kind, map[string]any{
		"config_type": kind,
		"config_data": data,
	})
}

func (l *Logger) SystemInfo(info map[string]any) (model.LogEntry, error) {
	return l.Write(model.LogLevelDebug, "System Information", info)
}

// Retrieve returns the raw content of a channel. A channel that has not been
// written yet is empty.
func (l *Logger) Retrieve(c Channel) (string, error) {
	path, ok := l.files[c]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidChannel, c)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(b), nil
}

func channelsFor(level model.LogLevel) []Channel {
	switch level {
	case model.LogLevelError:
		return []Channel{ChannelMain, ChannelError}
	case model.LogLevelDebug:
		return []Channel{ChannelDebug}
	default:
		return []Channel{ChannelMain}
	}
}

func formatLine(e model.LogEntry) (string, error) {
	var ctx string
	if len(e.Context) > 0 {
		b, err := json.Marshal(e.Context)
		if err != nil {
			return "", fmt.Errorf("encoding log context: %w", err)
		}
		ctx = " | Context: " + string(b)
	}
	return fmt.Sprintf("[%s] [%s] %s%s\n", e.Timestamp.Format(timestampLayout), strings.ToUpper(string(e.Level)), e.Message, ctx), nil
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file %s: %w", path, err)
	}
	if _, err := f.WriteString(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing log file %s: %w", path, err)
	}
	return f.Close()
}
