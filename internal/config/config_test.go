package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TA_DUR", "90s")
	require.Equal(t, 90*time.Second, getEnvDuration("TA_DUR", time.Second))

	t.Setenv("TA_DUR", "45")
	require.Equal(t, 45*time.Second, getEnvDuration("TA_DUR", time.Second))

	t.Setenv("TA_DUR", "soon")
	require.Equal(t, time.Second, getEnvDuration("TA_DUR", time.Second))

	require.Equal(t, time.Minute, getEnvDuration("TA_DUR_UNSET", time.Minute))
}

func TestParseOrigins(t *testing.T) {
	require.Nil(t, parseOrigins(""))
	require.Equal(t, []string{"https://a.example", "https://b.example"},
		parseOrigins(" https://a.example, ,https://b.example "))
}

func TestLoadClientFromEnv(t *testing.T) {
	t.Setenv("TECHASSESS_SESSION_ID", "abc")
	t.Setenv("TECHASSESS_PUSH_INTERVAL", "3s")

	cfg := LoadClient()
	require.Equal(t, "abc", cfg.SessionID)
	require.Equal(t, 3*time.Second, cfg.PushInterval)
	require.Equal(t, 500*time.Millisecond, cfg.Debounce)
}

func TestCacheKeys(t *testing.T) {
	require.Equal(t, "session:s1:progress", CacheKey.SessionProgressKey("s1"))
	require.Equal(t, "session:s1:started_at", CacheKey.SessionStartKey("s1"))
	require.Equal(t, "sessions:monitor", CacheKey.SessionMonitorChannel())
}
