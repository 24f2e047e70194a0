package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) error {
	t.Helper()

	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	return cmd.Execute()
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestCommands_RejectBadInvocations(t *testing.T) {
	empty := writeConfig(t, "app:\n  name: powctl\n")

	tests := []struct {
		name      string
		args      []string
		errString string
	}{
		{
			name:      "missing config flag",
			args:      []string{"migrate", "up"},
			errString: `required flag(s) "config" not set`,
		},
		{
			name:      "unknown migrate direction",
			args:      []string{"migrate", "sideways", "--config", empty},
			errString: `invalid argument "sideways"`,
		},
		{
			name:      "migrate without direction",
			args:      []string{"migrate", "--config", empty},
			errString: "accepts 1 arg(s)",
		},
		{
			name:      "unreadable config",
			args:      []string{"rabbitmq", "declare", "--config", filepath.Join(t.TempDir(), "missing.yaml")},
			errString: "failed to load config",
		},
		{
			name:      "migrate without database",
			args:      []string{"migrate", "up", "--config", empty},
			errString: "database host and name are required",
		},
		{
			name:      "declare without exchange",
			args:      []string{"rabbitmq", "declare", "--config", empty},
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "ensure-topic without topic",
			args:      []string{"kafka", "ensure-topic", "--config", empty},
			errString: "kafka topic is required",
		},
		{
			name:      "ensure-topic without brokers",
			args:      []string{"kafka", "ensure-topic", "--topic", "job", "--config", empty},
			errString: "no kafka brokers configured",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := NewRootCommand()

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"migrate", "kafka", "rabbitmq"}, names)
}
