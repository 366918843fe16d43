package provision

import (
	"context"

	"github.com/pkg/errors"

	"github.com/serverkit/installer/internal/store"
	"github.com/serverkit/installer/internal/store/model"
)

type finalizeStep struct {
	open       AppDBOpener
	installDir string
}

func NewFinalizeStep(open AppDBOpener, installDir string) Step {
	if open == nil {
		open = OpenPostgresAppDB
	}
	return &finalizeStep{open: open, installDir: installDir}
}

func (s *finalizeStep) Name() string { return "finalize" }

func (s *finalizeStep) Description() string { return "Finalizing installation" }

func (s *finalizeStep) Run(ctx context.Context, env *Env) error {
	srv := env.Config.Server
	if srv == nil || env.Config.Database == nil {
		return errors.New("installation configuration is incomplete")
	}
	dir := installDir(env.Config, s.installDir)

	values := map[string]string{
		"server_name": srv.ServerName,
		"admin_email": srv.AdminEmail,
		"domain":      srv.Domain,
		"install_dir": dir,
	}

	if env.DryRun {
		env.Report.Info("Dry run: settings not written", map[string]any{"settings": len(values)})
		return nil
	}

	db, err := s.open(ctx, *env.Config.Database)
	if err != nil {
		return errors.Wrap(err, "connecting with the application account")
	}
	defer func() { _ = store.CloseDB(db) }()

	settings := store.NewSettingsStore(db)
	if err := settings.Upsert(ctx, values); err != nil {
		return err
	}
	env.Report.Info("Application settings saved", map[string]any{"settings": len(values)})

	if err := settings.RecordInstallation(ctx, model.Installation{
		ID:         env.JobID,
		ServerName: srv.ServerName,
		AdminEmail: srv.AdminEmail,
		Domain:     srv.Domain,
		InstallDir: dir,
	}); err != nil {
		return err
	}
	env.Report.Info("Installation recorded", map[string]any{"job_id": env.JobID})
	return nil
}
