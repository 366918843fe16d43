package model

import (
	"fmt"
	"net/url"
	"strconv"
)

const DefaultDatabasePort = 5432

// InstallConfig is the configuration collected by the wizard and submitted
// with an installation request.
type InstallConfig struct {
	Database *DatabaseConfig `json:"database" validate:"required"`
	Server   *ServerConfig   `json:"server" validate:"required"`
}

type DatabaseConfig struct {
	Host         string `json:"db_host" validate:"required,hostname_rfc1123|ip"`
	Port         int    `json:"db_port,omitempty" validate:"omitempty,min=1,max=65535"`
	RootUser     string `json:"db_root_user" validate:"required,db_identifier"`
	RootPassword string `json:"db_root_pass,omitempty"`
	Name         string `json:"db_name" validate:"required,db_identifier"`
	User         string `json:"db_user" validate:"required,db_identifier"`
	Password     string `json:"db_pass" validate:"required,min=8"`
}

type ServerConfig struct {
	ServerName string `json:"server_name" validate:"required,max=128"`
	AdminEmail string `json:"admin_email" validate:"required,email"`
	Domain     string `json:"domain,omitempty" validate:"omitempty,fqdn|hostname_rfc1123"`
	InstallDir string `json:"install_dir,omitempty" validate:"omitempty,abs_path"`
}

func (d DatabaseConfig) port() int {
	if d.Port == 0 {
		return DefaultDatabasePort
	}
	return d.Port
}

// AdminURL is the connection string of the administrative account, connected
// to the maintenance database.
func (d DatabaseConfig) AdminURL() string {
	return d.url(d.RootUser, d.RootPassword, "postgres")
}

// AppURL is the connection string of the application account.
func (d DatabaseConfig) AppURL() string {
	return d.url(d.User, d.Password, d.Name)
}

func (d DatabaseConfig) url(user, password, dbname string) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, password),
		Host:     fmt.Sprintf("%s:%s", d.Host, strconv.Itoa(d.port())),
		Path:     "/" + dbname,
		RawQuery: "sslmode=disable&connect_timeout=5",
	}
	return u.String()
}

// Secrets returns the credential values carried by the configuration.
func (c InstallConfig) Secrets() []string {
	if c.Database == nil {
		return nil
	}
	var out []string
	for _, s := range []string{c.Database.RootPassword, c.Database.Password} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ContextMap flattens the configuration into a log context. Callers still
// need to redact it.
func (c InstallConfig) ContextMap() map[string]any {
	out := map[string]any{}
	if c.Database != nil {
		out["database"] = map[string]any{
			"db_host":      c.Database.Host,
			"db_port":      c.Database.port(),
			"db_root_user": c.Database.RootUser,
			"db_root_pass": c.Database.RootPassword,
			"db_name":      c.Database.Name,
			"db_user":      c.Database.User,
			"db_pass":      c.Database.Password,
		}
	}
	if c.Server != nil {
		out["server"] = map[string]any{
			"server_name": c.Server.ServerName,
			"admin_email": c.Server.AdminEmail,
			"domain":      c.Server.Domain,
			"install_dir": c.Server.InstallDir,
		}
	}
	return out
}
