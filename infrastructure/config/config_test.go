package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ServerAddress)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "memory", cfg.Persistence)
	assert.Equal(t, time.Second, cfg.Editing.MergeWindow)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("SERVER_ADDRESS", ":9000")
	t.Setenv("PERSISTENCE", "dynamodb")
	t.Setenv("MOVE_MERGE_WINDOW_MS", "250")
	t.Setenv("ENABLE_METRICS", "false")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.ServerAddress)
	assert.Equal(t, "dynamodb", cfg.Persistence)
	assert.Equal(t, 250*time.Millisecond, cfg.Editing.MergeWindow)
	assert.False(t, cfg.EnableMetrics)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "unknown persistence",
			mutate:  func(c *Config) { c.Persistence = "postgres" },
			wantErr: "PERSISTENCE",
		},
		{
			name:    "non-positive merge window",
			mutate:  func(c *Config) { c.Editing.MergeWindow = 0 },
			wantErr: "MOVE_MERGE_WINDOW_MS",
		},
		{
			name:    "production requires jwt secret",
			mutate:  func(c *Config) { c.Environment = "production" },
			wantErr: "JWT_SECRET",
		},
		{
			name: "production with secret is fine",
			mutate: func(c *Config) {
				c.Environment = "production"
				c.JWTSecret = "secret"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Persistence: "memory",
				Editing:     EditingConfig{MergeWindow: time.Second},
			}
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
