package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/serverkit/installer/internal/store/model"
)

// Settings writes the initial configuration of the installed application.
type Settings interface {
	Upsert(ctx context.Context, values map[string]string) error
	Get(ctx context.Context, name string) (string, error)
	List(ctx context.Context) ([]model.Setting, error)
	RecordInstallation(ctx context.Context, installation model.Installation) error
}

type settingsStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewSettingsStore(db *gorm.DB) Settings {
	return &settingsStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *settingsStore) Upsert(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	now := s.now()
	rows := make([]model.Setting, 0, len(values))
	for k, v := range values {
		rows = append(rows, model.Setting{Name: k, Value: v, UpdatedAt: now})
	}

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rows)
	if result.Error != nil {
		return fmt.Errorf("upserting settings: %w", result.Error)
	}
	return nil
}

func (s *settingsStore) Get(ctx context.Context, name string) (string, error) {
	var setting model.Setting
	if err := s.db.WithContext(ctx).First(&setting, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrRecordNotFound
		}
		return "", fmt.Errorf("querying setting %s: %w", name, err)
	}
	return setting.Value, nil
}

func (s *settingsStore) List(ctx context.Context) ([]model.Setting, error) {
	var settings []model.Setting
	if err := s.db.WithContext(ctx).Order("name").Find(&settings).Error; err != nil {
		return nil, fmt.Errorf("listing settings: %w", err)
	}
	return settings, nil
}

func (s *settingsStore) RecordInstallation(ctx context.Context, installation model.Installation) error {
	if installation.InstalledAt.IsZero() {
		installation.InstalledAt = s.now()
	}
	if err := s.db.WithContext(ctx).Create(&installation).Error; err != nil {
		return fmt.Errorf("recording installation: %w", err)
	}
	return nil
}
