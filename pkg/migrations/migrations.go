package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed sql/*.sql
var schema embed.FS

// Dialects accepted by Migrate, keyed by the gorm dialector name.
var dialects = map[string]string{
	"postgres": "postgres",
	"sqlite":   "sqlite3",
}

// Migrate brings the application schema of db up to date.
func Migrate(db *gorm.DB) error {
	sqlDB, err := prepare(db)
	if err != nil {
		return err
	}

	if err := goose.Up(sqlDB, "sql"); err != nil {
		return fmt.Errorf("applying schema migrations: %w", err)
	}
	return nil
}

// Version returns the schema version currently applied to db.
func Version(db *gorm.DB) (int64, error) {
	sqlDB, err := prepare(db)
	if err != nil {
		return 0, err
	}
	return goose.GetDBVersion(sqlDB)
}

func prepare(db *gorm.DB) (*sql.DB, error) {
	goose.SetLogger(&logger{})
	goose.SetBaseFS(schema)

	dialect, ok := dialects[db.Dialector.Name()]
	if !ok {
		return nil, fmt.Errorf("unsupported database dialect %q", db.Dialector.Name())
	}
	if err := goose.SetDialect(dialect); err != nil {
		return nil, err
	}
	return db.DB()
}

/*
logger implements goose.Logger interface

	type Logger interface {
		Fatalf(format string, v ...interface{})
		Printf(format string, v ...interface{})
	}
*/
type logger struct{}

func (m *logger) Printf(format string, v ...interface{}) {
	zap.S().Named("migrations").Infof(format, v...)
}

func (m *logger) Fatalf(format string, v ...interface{}) {
	zap.S().Named("migrations").Fatalf(format, v...)
}
