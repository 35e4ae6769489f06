package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWebhookCommand(t *testing.T) {
	cmd := NewWebhookCommand()

	require.NotNil(t, cmd)
	assert.Equal(t, "webhook", cmd.Use)
	assert.True(t, cmd.HasSubCommands())
	assert.NotNil(t, cmd.PersistentFlags().Lookup("drop-pending"))

	for _, name := range []string{"set", "delete"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
		assert.NotNil(t, sub.RunE)
	}
}
