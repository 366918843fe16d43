package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

// Job status constants
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusError     JobStatus = "error"
)

// IsTerminal reports whether no further mutation may follow the status.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// Job is one provisioning run tracked under a session key.
type Job struct {
	ID           uuid.UUID     `json:"id"`
	SessionID    string        `json:"session_id"`
	Status       JobStatus     `json:"status"`
	Progress     int           `json:"progress"`
	LogQueue     []LogEntry    `json:"-"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Config       InstallConfig `json:"-"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

func NewJob(sessionID string, cfg InstallConfig) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.New(),
		SessionID: sessionID,
		Status:    JobStatusPending,
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a copy that shares no mutable state with j.
func (j *Job) Clone() Job {
	c := *j
	if j.LogQueue != nil {
		c.LogQueue = append([]LogEntry(nil), j.LogQueue...)
	}
	return c
}

func (j Job) String() string {
	val, _ := json.Marshal(j)
	return string(val)
}

// PollResult is the incremental view of a job returned to a polling client.
type PollResult struct {
	Status   JobStatus  `json:"status"`
	Progress int        `json:"progress"`
	Logs     []LogEntry `json:"logs"`
	Message  string     `json:"message,omitempty"`
}
