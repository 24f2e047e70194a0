package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/powrelay/shared/kafka"
)

type ensureTopicOptions struct {
	topic      string
	partitions int
	retention  time.Duration
}

// NewKafkaCommand creates the kafka command group
func NewKafkaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kafka",
		Short: "Manage announcement topics",
	}
	cmd.AddCommand(newEnsureTopicCommand(rootOpts))
	return cmd
}

func newEnsureTopicCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ensureTopicOptions{}

	cmd := &cobra.Command{
		Use:   "ensure-topic",
		Short: "Create the configured topic if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnsureTopic(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().StringVar(&opts.topic, "topic", "", "override the configured topic")
	cmd.Flags().IntVar(&opts.partitions, "partitions", 0, "override the configured partition count")
	cmd.Flags().DurationVar(&opts.retention, "retention", 0, "override the configured retention")

	return cmd
}

func runEnsureTopic(cmd *cobra.Command, rootOpts *RootOptions, opts *ensureTopicOptions) error {
	cfg, log, err := rootOpts.load(cmd)
	if err != nil {
		return err
	}

	kafkaConfig := cfg.KafkaClientConfig()
	if opts.topic != "" {
		kafkaConfig.Topic = opts.topic
	}
	if opts.partitions > 0 {
		kafkaConfig.Partitions = opts.partitions
	}
	if opts.retention > 0 {
		kafkaConfig.Retention = opts.retention
	}

	if kafkaConfig.Topic == "" {
		return fmt.Errorf("kafka topic is required")
	}

	return kafka.EnsureTopic(cmd.Context(), kafkaConfig, log.Logger)
}
