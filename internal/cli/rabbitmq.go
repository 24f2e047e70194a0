package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/powrelay/shared/rabbitmq"
)

// NewRabbitMQCommand creates the rabbitmq command group
func NewRabbitMQCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rabbitmq",
		Short: "Manage persistence exchanges and queues",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "declare",
		Short: "Declare the configured exchange and, if set, its bound queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeclare(cmd, rootOpts)
		},
	})

	return cmd
}

func runDeclare(cmd *cobra.Command, opts *RootOptions) error {
	cfg, log, err := opts.load(cmd)
	if err != nil {
		return err
	}

	if cfg.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	// Connecting declares the topology
	client, err := rabbitmq.NewClient(cmd.Context(), cfg.RabbitMQClientConfig(), log.Logger)
	if err != nil {
		return fmt.Errorf("failed to declare rabbitmq topology: %w", err)
	}
	client.Close(context.WithoutCancel(cmd.Context()))

	return nil
}
