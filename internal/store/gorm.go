package store

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DBTypePostgres = "pgsql"
	DBTypeSqlite   = "sqlite"
)

// InitDB opens the database of the application being installed. dsn is a
// postgres URL for pgsql and a file name (or ":memory:") for sqlite.
func InitDB(dbType string, dsn string) (*gorm.DB, error) {
	var dia gorm.Dialector

	switch dbType {
	case DBTypePostgres:
		dia = postgres.Open(dsn)
	case DBTypeSqlite:
		dia = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown database type %q", dbType)
	}

	newLogger := logger.New(
		zap.NewStdLog(zap.L().Named("gorm")),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
			Colorful:                  false,
		},
	)

	newDB, err := gorm.Open(dia, &gorm.Config{Logger: newLogger, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := newDB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to configure connections: %w", err)
	}
	if dbType == DBTypeSqlite {
		// every connection to ":memory:" is a different database
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(2)
		sqlDB.SetMaxOpenConns(5)
	}

	if dbType == DBTypePostgres {
		var version string
		if result := newDB.Raw("SELECT version()").Scan(&version); result.Error != nil {
			return nil, result.Error
		}
		zap.S().Named("gorm").Infof("PostgreSQL information: '%s'", version)
	}

	return newDB, nil
}

// CloseDB releases the connections held by db.
func CloseDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
