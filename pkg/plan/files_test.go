package plan

import (
	"testing"

	"github.com/cuemby/airbyte-operator/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderFlags(t *testing.T) {
	tests := []struct {
		name     string
		set      func(c *config.Config)
		contains []string
		excludes []string
	}{
		{
			name: "all values",
			set: func(c *config.Config) {
				c.HeartbeatMaxSecondsBetweenMessages = config.Int(3600)
				c.HeartbeatFailSync = config.Bool(true)
				c.DestinationTimeoutMaxSeconds = config.Int(86400)
				c.DestinationTimeoutFailSync = config.Bool(false)
			},
			contains: []string{
				"flags:",
				"heartbeat-max-seconds-between-messages",
				`serve: "3600"`,
				"heartbeat.failSync",
				"serve: true",
				"destination-timeout-enabled",
				"destination-timeout.seconds",
				`serve: "86400"`,
				"destination-timeout.failSync",
				"serve: false",
			},
		},
		{
			name: "heartbeat only",
			set: func(c *config.Config) {
				c.HeartbeatMaxSecondsBetweenMessages = config.Int(1800)
			},
			contains: []string{"flags:", "heartbeat-max-seconds-between-messages", `serve: "1800"`},
			excludes: []string{"heartbeat.failSync", "destination-timeout"},
		},
		{
			name: "destination timeout only",
			set: func(c *config.Config) {
				c.DestinationTimeoutMaxSeconds = config.Int(43200)
				c.DestinationTimeoutFailSync = config.Bool(true)
			},
			contains: []string{
				"destination-timeout-enabled",
				"destination-timeout.seconds",
				`serve: "43200"`,
				"destination-timeout.failSync",
				"serve: true",
			},
			excludes: []string{"heartbeat-max-seconds-between-messages", "heartbeat.failSync"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.set(cfg)

			out, err := RenderFlags(cfg)
			require.NoError(t, err)
			for _, s := range tt.contains {
				assert.Contains(t, out, s)
			}
			for _, s := range tt.excludes {
				assert.NotContains(t, out, s)
			}
		})
	}
}
