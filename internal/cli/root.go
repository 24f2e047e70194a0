// Package cli implements powctl, the provisioning tool that prepares the
// schema, topics and exchanges the services expect.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/powrelay/internal/config"
	"github.com/cuongbtq/powrelay/shared/logger"
)

// RootOptions holds global flags for all commands
type RootOptions struct {
	ConfigPath string
	Verbose    bool
}

// NewRootCommand creates the root command for powctl
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "powctl",
		Short:         "Provision infrastructure for the relay services",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a service configuration file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	_ = cmd.MarkPersistentFlagRequired("config")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewKafkaCommand(opts))
	cmd.AddCommand(NewRabbitMQCommand(opts))

	return cmd
}

// load reads the configuration and builds a logger that writes to the
// command's error stream
func (o *RootOptions) load(cmd *cobra.Command) (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := "info"
	if o.Verbose {
		level = "debug"
	}

	log, err := logger.New(&logger.Config{
		Level:  level,
		Format: "console",
		Output: "stderr",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return cfg, log.ForService("powctl"), nil
}
