package main

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/serverkit/installer/internal/config"
	"github.com/serverkit/installer/pkg/log"
)

var (
	envFile string
)

var rootCmd = &cobra.Command{
	Use: "installer-api",
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cleanupCmd)

	rootCmd.PersistentFlags().StringVarP(&envFile, "env-file", "e", ".env", "Environment file loaded before reading the configuration")
}

// setup loads the environment file, reads the configuration and installs the
// global logger. The returned func flushes and restores the logger.
func setup() (*config.Config, func(), error) {
	// the environment file is optional
	_ = godotenv.Load(envFile)

	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}

	logger := log.InitLog(log.ParseLevel(cfg.Service.LogLevel))
	undo := zap.ReplaceGlobals(logger)

	return cfg, func() {
		_ = logger.Sync()
		undo()
	}, nil
}
