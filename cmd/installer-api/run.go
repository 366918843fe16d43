package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	apiserver "github.com/serverkit/installer/internal/api_server"
	"github.com/serverkit/installer/internal/config"
	handlers "github.com/serverkit/installer/internal/handlers/v1alpha1"
	"github.com/serverkit/installer/internal/joblog"
	"github.com/serverkit/installer/internal/opa"
	"github.com/serverkit/installer/internal/provision"
	"github.com/serverkit/installer/internal/requirements"
	"github.com/serverkit/installer/internal/service"
	"github.com/serverkit/installer/internal/store"
	"github.com/serverkit/installer/internal/store/model"
	"github.com/serverkit/installer/internal/sysinfo"
	"github.com/serverkit/installer/pkg/artifacts"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the installer api",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, done, err := setup()
		if err != nil {
			return fmt.Errorf("reading configuration: %w", err)
		}
		defer done()

		zap.S().Info("Starting installer API service")
		defer zap.S().Info("Installer API service stopped")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		facts, err := sysinfo.Collect(ctx, cfg.Provision.InstallDir)
		if err != nil {
			zap.S().Debugw("incomplete host facts", "error", err)
		}
		if !facts.IsRoot() {
			zap.S().Warnw("Not running as root. Some installation steps may fail, run as root for full functionality.", "user", facts.User)
		}

		logs, err := joblog.NewManager(cfg.Logs.Dir)
		if err != nil {
			zap.S().Fatalw("initializing log directory", "error", err)
		}

		source, err := newArtifactSource(cfg)
		if err != nil {
			zap.S().Fatalw("initializing artifact source", "error", err)
		}

		gate, err := newRequirementsGate(cfg)
		if err != nil {
			zap.S().Fatalw("loading requirements policy", "error", err)
		}

		admin := provision.NewPostgresAdmin()
		jobs := store.NewJobStore(cfg.Jobs.TTL)
		pool := provision.NewPool(cfg.Jobs.MaxConcurrent)

		steps := provision.DefaultSteps(provision.Options{
			DryRun:         cfg.Provision.DryRun,
			StepTimeout:    cfg.Provision.StepTimeout,
			PackageManager: cfg.Provision.PackageManager,
			Packages:       cfg.Provision.Packages,
			InstallDir:     cfg.Provision.InstallDir,
			NginxSitesDir:  cfg.Provision.NginxSitesDir,
			Admin:          admin,
			OpenAppDB:      newAppDBOpener(cfg),
			Artifacts:      source,
		})
		worker := provision.NewWorker(jobs, logs, steps,
			provision.WithDryRun(cfg.Provision.DryRun),
			provision.WithStepTimeout(cfg.Provision.StepTimeout),
			provision.WithSystemInfo(func(ctx context.Context) map[string]any {
				f, _ := sysinfo.Collect(ctx, cfg.Provision.InstallDir)
				return f.Map()
			}),
		)

		checker := requirements.NewChecker(requirements.Options{
			MinDiskGB:   cfg.Requirements.MinDiskGB,
			MinMemoryMB: cfg.Requirements.MinMemoryMB,
			DiskPath:    filepath.Dir(cfg.Provision.InstallDir),
			WritableDir: cfg.Logs.Dir,
			Commands:    cfg.Requirements.Commands,
			Services:    cfg.Requirements.Services,
		}, gate)

		h := handlers.NewServiceHandler(
			service.NewJobService(jobs, pool, worker),
			service.NewConnectivityService(admin),
			service.NewSupportService(logs, jobs, func(ctx context.Context) (sysinfo.Facts, error) {
				return sysinfo.Collect(ctx, cfg.Provision.InstallDir)
			}),
			service.NewRequirementsService(checker),
			handlers.WithSessionCookie(cfg.Service.SessionCookie),
		)

		serverDone := make(chan struct{})
		go func() {
			defer close(serverDone)
			defer cancel()
			listener, err := newListener(cfg.Service.Address)
			if err != nil {
				zap.S().Fatalw("creating listener", "error", err)
			}

			server := apiserver.New(cfg, listener, h, jobs, pool, logs)
			if err := server.Run(ctx); err != nil {
				zap.S().Fatalw("Error running server", "error", err)
			}
		}()

		go func() {
			defer cancel()
			listener, err := newListener(cfg.Service.MetricsAddress)
			if err != nil {
				zap.S().Fatalw("creating listener", "error", err)
			}

			metricsServer := apiserver.NewMetricServer(cfg.Service.MetricsAddress, listener)
			if err := metricsServer.Run(ctx); err != nil {
				zap.S().Fatalw("failed to run metrics server", "error", err)
			}
		}()

		<-ctx.Done()
		// the api server returns once the installation workers are stopped
		<-serverDone
		return nil
	},
}

func newListener(address string) (net.Listener, error) {
	if address == "" {
		address = "localhost:0"
	}
	return net.Listen("tcp", address)
}

func newArtifactSource(cfg *config.Config) (artifacts.Source, error) {
	switch cfg.Artifacts.Type {
	case "s3", "minio":
		return artifacts.NewMinioSource(
			artifacts.WithEndpoint(cfg.Artifacts.Endpoint),
			artifacts.WithBucket(cfg.Artifacts.Bucket),
			artifacts.WithPrefix(cfg.Artifacts.Prefix),
			artifacts.WithAccessKey(cfg.Artifacts.AccessKey),
			artifacts.WithSecretKey(cfg.Artifacts.SecretKey),
			artifacts.WithSSL(cfg.Artifacts.UseSSL),
		)
	case "local", "":
		return artifacts.NewLocalSource(cfg.Artifacts.LocalDir), nil
	default:
		return nil, fmt.Errorf("unknown artifacts type %q", cfg.Artifacts.Type)
	}
}

func newRequirementsGate(cfg *config.Config) (*opa.Validator, error) {
	if cfg.Requirements.PolicyDir != "" {
		return opa.NewValidatorFromDir(cfg.Requirements.PolicyDir)
	}
	return opa.NewDefaultValidator()
}

func newAppDBOpener(cfg *config.Config) provision.AppDBOpener {
	if cfg.Provision.AppDBType != store.DBTypeSqlite {
		return provision.OpenPostgresAppDB
	}
	return func(_ context.Context, db model.DatabaseConfig) (*gorm.DB, error) {
		return store.InitDB(store.DBTypeSqlite, filepath.Join(cfg.Provision.InstallDir, db.Name+".db"))
	}
}
