package mappers

import (
	"sort"

	api "github.com/serverkit/installer/api/v1alpha1"
	"github.com/serverkit/installer/internal/requirements"
	"github.com/serverkit/installer/internal/service"
	"github.com/serverkit/installer/internal/store/model"
)

func InstallResponseToApi(info *service.JobInfo) api.InstallResponse {
	return api.InstallResponse{
		Accepted:  true,
		JobId:     info.ID.String(),
		SessionId: info.SessionID,
		Message:   "Installation started",
	}
}

func RejectedInstallToApi(message string) api.InstallResponse {
	return api.InstallResponse{Accepted: false, Message: message}
}

func ProgressToApi(r *model.PollResult) api.ProgressResponse {
	logs := make([]api.LogEntry, 0, len(r.Logs))
	for _, e := range r.Logs {
		logs = append(logs, LogEntryToApi(e))
	}
	return api.ProgressResponse{
		Status:   api.JobStatus(r.Status),
		Progress: r.Progress,
		Logs:     logs,
		Message:  r.Message,
	}
}

func LogEntryToApi(e model.LogEntry) api.LogEntry {
	return api.LogEntry{
		Type:      string(e.Level),
		Message:   e.Message,
		Context:   e.Context,
		Timestamp: e.Timestamp,
	}
}

func RequirementsToApi(r *requirements.Report) api.RequirementsResponse {
	checks := make(map[string]api.RequirementCheck, len(r.Checks))
	for key, c := range r.Checks {
		checks[key] = api.RequirementCheck{
			Name:     c.Name,
			Category: string(c.Category),
			Status:   string(c.Status),
			Critical: c.Critical,
			Message:  c.Message,
		}
	}

	blocking := append([]string{}, r.Blocking...)
	warnings := append([]string{}, r.Warnings...)
	sort.Strings(blocking)
	sort.Strings(warnings)

	return api.RequirementsResponse{
		Checks:     checks,
		CanProceed: r.CanProceed,
		Blocking:   blocking,
		Warnings:   warnings,
	}
}

func DatabaseTestToApi(r *service.ConnectivityResult) api.DatabaseTestResponse {
	return api.DatabaseTestResponse{Success: r.Success, Message: r.Message}
}
