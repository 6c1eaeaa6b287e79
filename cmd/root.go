// Package cmd holds the sgic-audit command line.
package cmd

import (
	"fmt"

	"github.com/sgic-platform/sgic-audit/config"
	dbadapter "github.com/sgic-platform/sgic-audit/db"
	"github.com/sgic-platform/sgic-audit/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "sgic-audit",
	Short: "SGIC audit trail server",
	Long: `sgic-audit records every action agents take on SGIC dossiers, suspects
and evidence pieces as a write-once audit trail, keeps a narrative journal
per session and renders French narrative reports.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config/config.yaml", "config file path")
}

// env is what every subcommand opens first.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *gorm.DB
}

func (e *env) close() {
	if sqlDB, err := e.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = e.logger.Sync()
}

func open() (*env, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger, err := logging.New(cfg.Logging, cfg.Server.Debug)
	if err != nil {
		return nil, err
	}
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	return &env{cfg: cfg, logger: logger, db: db}, nil
}
