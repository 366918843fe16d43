package provision

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/serverkit/installer/internal/store"
	"github.com/serverkit/installer/internal/store/model"
	"github.com/serverkit/installer/pkg/migrations"
)

// AppDBOpener opens the database of the installed application with the
// application account.
type AppDBOpener func(ctx context.Context, cfg model.DatabaseConfig) (*gorm.DB, error)

// OpenPostgresAppDB is the AppDBOpener used outside tests.
func OpenPostgresAppDB(_ context.Context, cfg model.DatabaseConfig) (*gorm.DB, error) {
	return store.InitDB(store.DBTypePostgres, cfg.AppURL())
}

type databaseStep struct {
	admin DatabaseAdmin
	open  AppDBOpener
}

func NewDatabaseStep(admin DatabaseAdmin, open AppDBOpener) Step {
	if admin == nil {
		admin = NewPostgresAdmin()
	}
	if open == nil {
		open = OpenPostgresAppDB
	}
	return &databaseStep{admin: admin, open: open}
}

func (s *databaseStep) Name() string { return "database" }

func (s *databaseStep) Description() string { return "Setting up database" }

func (s *databaseStep) Run(ctx context.Context, env *Env) error {
	cfg := env.Config.Database
	if cfg == nil {
		return errors.New("database configuration is missing")
	}
	target := map[string]any{"db_host": cfg.Host, "db_name": cfg.Name, "db_user": cfg.User}

	if env.DryRun {
		env.Report.Info("Dry run: skipping database provisioning", target)
		return nil
	}

	env.Report.Info("Creating database role", target)
	if err := s.admin.EnsureRole(ctx, *cfg); err != nil {
		return err
	}

	env.Report.Info("Creating database", target)
	if err := s.admin.EnsureDatabase(ctx, *cfg); err != nil {
		return err
	}

	db, err := s.open(ctx, *cfg)
	if err != nil {
		return errors.Wrap(err, "connecting with the application account")
	}
	defer func() { _ = store.CloseDB(db) }()

	if err := migrations.Migrate(db); err != nil {
		return err
	}
	version, err := migrations.Version(db)
	if err != nil {
		return errors.Wrap(err, "reading schema version")
	}
	env.Report.Info("Database schema is up to date", map[string]any{"schema_version": version})
	return nil
}
