package provision

import (
	"context"
	"time"

	"github.com/serverkit/installer/internal/store/model"
	"github.com/serverkit/installer/pkg/artifacts"
)

// Step is one stage of a provisioning job. Steps run in order and the first
// failing step ends the job.
type Step interface {
	Name() string
	Description() string
	Run(ctx context.Context, env *Env) error
}

// Reporter records step output. Every call ends up both in the session log
// files and in the job's pending log queue.
type Reporter interface {
	Info(message string, fields map[string]any)
	Warning(message string, fields map[string]any)
	Debug(message string, fields map[string]any)
	Command(command string, output string, exitCode int)
}

// Env is what a step gets to work with.
type Env struct {
	JobID     string
	SessionID string
	Config    model.InstallConfig
	Report    Reporter
	Runner    CommandRunner
	DryRun    bool
}

// Options configure the default step sequence.
type Options struct {
	DryRun         bool
	StepTimeout    time.Duration
	PackageManager string
	Packages       []string
	InstallDir     string
	NginxSitesDir  string
	Admin          DatabaseAdmin
	OpenAppDB      AppDBOpener
	Artifacts      artifacts.Source
}

// DefaultSteps returns the installation sequence: system packages, database,
// web server, application files and final configuration.
func DefaultSteps(opts Options) []Step {
	return []Step{
		NewPackagesStep(opts.PackageManager, opts.Packages),
		NewDatabaseStep(opts.Admin, opts.OpenAppDB),
		NewWebserverStep(opts.NginxSitesDir, opts.InstallDir),
		NewDeployStep(opts.Artifacts, opts.InstallDir),
		NewFinalizeStep(opts.OpenAppDB, opts.InstallDir),
	}
}

// installDir resolves the target directory of the application, preferring
// the one submitted with the job.
func installDir(cfg model.InstallConfig, fallback string) string {
	if cfg.Server != nil && cfg.Server.InstallDir != "" {
		return cfg.Server.InstallDir
	}
	return fallback
}
