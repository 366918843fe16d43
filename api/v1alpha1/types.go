// Package v1alpha1 holds the wire types of the installer HTTP API. They are
// shared by the server handlers and the Go client.
package v1alpha1

import "time"

const (
	SessionHeader = "X-Installer-Session"
	SessionCookie = "installer_session"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusError     JobStatus = "error"
)

type DatabaseConfig struct {
	Host         string `json:"db_host"`
	Port         int    `json:"db_port,omitempty"`
	RootUser     string `json:"db_root_user"`
	RootPassword string `json:"db_root_pass,omitempty"`
	Name         string `json:"db_name"`
	User         string `json:"db_user"`
	Password     string `json:"db_pass"`
}

type ServerConfig struct {
	ServerName string `json:"server_name"`
	AdminEmail string `json:"admin_email"`
	Domain     string `json:"domain,omitempty"`
	InstallDir string `json:"install_dir,omitempty"`
}

// InstallConfig is the body of an installation submission.
type InstallConfig struct {
	Database *DatabaseConfig `json:"database,omitempty" yaml:"database,omitempty"`
	Server   *ServerConfig   `json:"server,omitempty" yaml:"server,omitempty"`
}

type InstallResponse struct {
	Accepted  bool   `json:"accepted"`
	JobId     string `json:"jobId,omitempty"`
	SessionId string `json:"sessionId,omitempty"`
	Message   string `json:"message"`
}

type LogEntry struct {
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type ProgressResponse struct {
	Status   JobStatus  `json:"status"`
	Progress int        `json:"progress"`
	Logs     []LogEntry `json:"logs"`
	Message  string     `json:"message,omitempty"`
}

// IsTerminal reports whether the job behind the response will not change
// anymore.
func (p ProgressResponse) IsTerminal() bool {
	return p.Status == JobStatusCompleted || p.Status == JobStatusError
}

type RequirementCheck struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Status   string `json:"status"`
	Critical bool   `json:"critical"`
	Message  string `json:"message"`
}

type RequirementsResponse struct {
	Checks     map[string]RequirementCheck `json:"checks"`
	CanProceed bool                        `json:"canProceed"`
	Blocking   []string                    `json:"blocking"`
	Warnings   []string                    `json:"warnings"`
}

type DatabaseTestResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type Error struct {
	Message   string  `json:"message"`
	RequestId *string `json:"requestId,omitempty"`
}
