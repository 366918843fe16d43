package provision

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/serverkit/installer/internal/store/model"
)

// DatabaseAdmin performs the administrative work on the database server.
type DatabaseAdmin interface {
	// EnsureRole creates the application role or resets its password.
	EnsureRole(ctx context.Context, cfg model.DatabaseConfig) error
	// EnsureDatabase creates the application database owned by its role.
	EnsureDatabase(ctx context.Context, cfg model.DatabaseConfig) error
	// Probe verifies the administrative account can create and drop
	// databases and roles.
	Probe(ctx context.Context, cfg model.DatabaseConfig) error
}

const connectTimeout = 10 * time.Second

type PostgresAdmin struct{}

func NewPostgresAdmin() *PostgresAdmin {
	return &PostgresAdmin{}
}

func (a *PostgresAdmin) connect(ctx context.Context, cfg model.DatabaseConfig) (*pgx.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	conn, err := pgx.Connect(ctx, cfg.AdminURL())
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to %s as %s", cfg.Host, cfg.RootUser)
	}
	return conn, nil
}

func (a *PostgresAdmin) EnsureRole(ctx context.Context, cfg model.DatabaseConfig) error {
	conn, err := a.connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	var exists bool
	if err := conn.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1)", cfg.User).Scan(&exists); err != nil {
		return errors.Wrap(err, "looking up role")
	}

	role := pgx.Identifier{cfg.User}.Sanitize()
	stmt := "CREATE ROLE " + role + " LOGIN PASSWORD " + quoteLiteral(cfg.Password)
	if exists {
		stmt = "ALTER ROLE " + role + " WITH LOGIN PASSWORD " + quoteLiteral(cfg.Password)
	}
	if _, err := conn.Exec(ctx, stmt); err != nil {
		return errors.Wrapf(err, "configuring role %s", cfg.User)
	}
	return nil
}

func (a *PostgresAdmin) EnsureDatabase(ctx context.Context, cfg model.DatabaseConfig) error {
	conn, err := a.connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	var exists bool
	if err := conn.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", cfg.Name).Scan(&exists); err != nil {
		return errors.Wrap(err, "looking up database")
	}

	db := pgx.Identifier{cfg.Name}.Sanitize()
	owner := pgx.Identifier{cfg.User}.Sanitize()
	if !exists {
		if _, err := conn.Exec(ctx, "CREATE DATABASE "+db+" OWNER "+owner+" ENCODING 'UTF8'"); err != nil {
			return errors.Wrapf(err, "creating database %s", cfg.Name)
		}
		return nil
	}
	if _, err := conn.Exec(ctx, "ALTER DATABASE "+db+" OWNER TO "+owner); err != nil {
		return errors.Wrapf(err, "changing owner of database %s", cfg.Name)
	}
	return nil
}

func (a *PostgresAdmin) Probe(ctx context.Context, cfg model.DatabaseConfig) error {
	conn, err := a.connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	suffix, err := randomSuffix()
	if err != nil {
		return err
	}
	scratchDB := pgx.Identifier{"installer_probe_" + suffix}.Sanitize()
	scratchRole := pgx.Identifier{"installer_probe_" + suffix}.Sanitize()

	if _, err := conn.Exec(ctx, "CREATE DATABASE "+scratchDB); err != nil {
		return errors.Wrap(err, "cannot create databases")
	}
	if _, err := conn.Exec(ctx, "DROP DATABASE IF EXISTS "+scratchDB); err != nil {
		return errors.Wrap(err, "cannot drop databases")
	}
	if _, err := conn.Exec(ctx, "CREATE ROLE "+scratchRole+" LOGIN PASSWORD "+quoteLiteral(suffix)); err != nil {
		return errors.Wrap(err, "cannot create roles")
	}
	if _, err := conn.Exec(ctx, "DROP ROLE IF EXISTS "+scratchRole); err != nil {
		return errors.Wrap(err, "cannot drop roles")
	}
	return nil
}

// quoteLiteral quotes s as a SQL string literal. Role passwords cannot be
// passed as bind parameters.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func randomSuffix() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "generating probe name")
	}
	return hex.EncodeToString(b), nil
}
