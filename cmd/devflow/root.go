package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alexcabrera/devflow/internal/builtin"
	"github.com/alexcabrera/devflow/internal/config"
	"github.com/alexcabrera/devflow/internal/logging"
	"github.com/alexcabrera/devflow/internal/paths"
	"github.com/alexcabrera/devflow/internal/session"
	"github.com/alexcabrera/devflow/internal/workflow"
)

// app carries the global flags and lazily opened resources shared by
// every subcommand.
type app struct {
	cfgPath string
	jsonOut bool
	local   bool
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "devflow",
		Short: "Run development work through staged workflows",
		Long: `devflow tracks development work as sessions that move through the stages of a
workflow. Each stage has a checklist and expected deliverables; a session
advances once the checklist is done.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.local {
				paths.SetLocalDevMode()
				if !cmd.Flags().Changed("config") {
					a.cfgPath = paths.ConfigFile()
				}
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&a.cfgPath, "config", defaultConfigPath(), "path to config file")
	cmd.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "print machine-readable JSON")
	cmd.PersistentFlags().BoolVar(&a.local, "local", false, "keep data and config under the working directory")

	cmd.AddCommand(newWorkflowsCmd(a))
	cmd.AddCommand(newSessionsCmd(a))
	cmd.AddCommand(newStageCmd(a))
	cmd.AddCommand(newContextCmd(a))
	cmd.AddCommand(newMCPCmd(a))

	return cmd
}

func defaultConfigPath() string {
	return paths.ConfigFile()
}

func withConfig(cfgPath *string, fn func(config.Config) error) error {
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	return fn(cfg)
}

// withServices loads the config, opens the log file and the database,
// publishes built-in and on-disk workflow definitions, and runs fn.
func (a *app) withServices(cmd *cobra.Command, fn func(config.Config, *session.Services) error) error {
	return withConfig(&a.cfgPath, func(cfg config.Config) error {
		level, err := cfg.Level()
		if err != nil {
			return err
		}
		logger, err := logging.New(cfg.LogFile, level)
		if err != nil {
			logger = logging.Discard()
		}
		defer logger.Close()

		services, err := session.Connect(cmd.Context(), cfg.DatabasePath, session.WithLogger(logger.Logger))
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer services.Close()

		if err := publishDefinitions(cmd.Context(), cfg, services, logger); err != nil {
			return err
		}
		return fn(cfg, services)
	})
}

func publishDefinitions(ctx context.Context, cfg config.Config, services *session.Services, logger *logging.Logger) error {
	if cfg.InstallBuiltin {
		installed, err := builtin.Install(ctx, services.Workflows)
		if err != nil {
			return fmt.Errorf("install built-in workflows: %w", err)
		}
		for _, w := range installed {
			logger.Info("installed built-in workflow", "workflow_id", w.ID, "name", w.Name, "version", w.Version)
		}
	}

	files, err := workflow.Discover(cfg.WorkflowsDirs)
	if err != nil {
		return fmt.Errorf("discover workflows: %w", err)
	}
	for _, f := range files {
		if f.Err != nil {
			logger.Warn("skipping workflow definition", "path", f.Path, "error", f.Err)
			continue
		}
		w, created, err := services.Workflows.Import(ctx, f.Params)
		if err != nil {
			logger.Warn("skipping workflow definition", "path", f.Path, "error", err)
			continue
		}
		if created {
			logger.Info("imported workflow", "workflow_id", w.ID, "name", w.Name, "version", w.Version, "path", f.Path)
		}
	}
	return nil
}
