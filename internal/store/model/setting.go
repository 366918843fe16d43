package model

import "time"

// Setting is a key/value row of the installed application's configuration.
type Setting struct {
	Name      string    `gorm:"column:name;primaryKey"`
	Value     string    `gorm:"column:value;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Setting) TableName() string {
	return "settings"
}

// Installation records a successful provisioning run in the application
// database.
type Installation struct {
	ID          string    `gorm:"column:id;primaryKey"`
	ServerName  string    `gorm:"column:server_name"`
	AdminEmail  string    `gorm:"column:admin_email"`
	Domain      string    `gorm:"column:domain"`
	InstallDir  string    `gorm:"column:install_dir"`
	InstalledAt time.Time `gorm:"column:installed_at"`
}

func (Installation) TableName() string {
	return "installations"
}
