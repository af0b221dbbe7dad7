package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultModelServerURL, cfg.ModelServerURL)
	assert.Equal(t, DefaultTimeout, cfg.RequestTimeout)
	assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, DefaultRetryDelay, cfg.RetryDelay)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "MODEL_SERVER_URL", "http://model:5001")
	setEnv(t, "MAX_RETRIES", "5")
	setEnv(t, "RETRY_DELAY", "250ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "http://model:5001", cfg.ModelServerURL)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryDelay)
}

func TestLoad_BareSecondsTimeout(t *testing.T) {
	// REQUEST_TIMEOUT=30 means 30 seconds, matching the legacy config format.
	setEnv(t, "REQUEST_TIMEOUT", "30")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name: "valid config",
			config: Config{
				ModelServerURL: "http://localhost:5001",
				MaxRetries:     3,
				RequestTimeout: 30 * time.Second,
			},
			wantErr: "",
		},
		{
			name: "missing model server url",
			config: Config{
				MaxRetries:     3,
				RequestTimeout: 30 * time.Second,
			},
			wantErr: "MODEL_SERVER_URL is required",
		},
		{
			name: "zero attempts",
			config: Config{
				ModelServerURL: "http://localhost:5001",
				MaxRetries:     0,
				RequestTimeout: 30 * time.Second,
			},
			wantErr: "MAX_RETRIES must be at least 1",
		},
		{
			name: "negative delay",
			config: Config{
				ModelServerURL: "http://localhost:5001",
				MaxRetries:     3,
				RequestTimeout: 30 * time.Second,
				RetryDelay:     -time.Second,
			},
			wantErr: "RETRY_DELAY must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
