package mappers

import (
	api "github.com/serverkit/installer/api/v1alpha1"
	"github.com/serverkit/installer/internal/store/model"
)

// InstallConfigFromApi converts a submission body. Missing sections stay nil
// so that validation can report them.
func InstallConfigFromApi(resource api.InstallConfig) *model.InstallConfig {
	cfg := &model.InstallConfig{}
	if resource.Database != nil {
		cfg.Database = DatabaseConfigFromApi(*resource.Database)
	}
	if s := resource.Server; s != nil {
		cfg.Server = &model.ServerConfig{
			ServerName: s.ServerName,
			AdminEmail: s.AdminEmail,
			Domain:     s.Domain,
			InstallDir: s.InstallDir,
		}
	}
	return cfg
}

func DatabaseConfigFromApi(d api.DatabaseConfig) *model.DatabaseConfig {
	return &model.DatabaseConfig{
		Host:         d.Host,
		Port:         d.Port,
		RootUser:     d.RootUser,
		RootPassword: d.RootPassword,
		Name:         d.Name,
		User:         d.User,
		Password:     d.Password,
	}
}
