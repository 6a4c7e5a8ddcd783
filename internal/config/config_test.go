package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load([]string{"DATABASE_URL=postgres://x", "JWT_SECRET=s"})
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 3, cfg.CoordinatorMaxRetries)
	assert.Equal(t, 18, cfg.CreditCapDefault)
	assert.Equal(t, 30*24*time.Hour, cfg.HistoryWindow)
}

func TestLoadAppliesHistoryWindowOverride(t *testing.T) {
	cfg, err := Load([]string{"DATABASE_URL=postgres://x", "JWT_SECRET=s", "ENROLLMENT_HISTORY_WINDOW=72h"})
	require.NoError(t, err)
	assert.Equal(t, 72*time.Hour, cfg.HistoryWindow)
}

func TestLoadRejectsUnrecognizedKey(t *testing.T) {
	_, err := Load([]string{"DATABASE_URL=postgres://x", "JWT_SECRET=s", "ENROLLMENT_TYPO=1"})
	require.Error(t, err)
	var cfgErr *ErrConfig
	assert.ErrorAs(t, err, &cfgErr)
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	_, err := Load([]string{"DATABASE_URL=postgres://x", "JWT_SECRET=s", "ENROLLMENT_LOCK_WAIT_TIMEOUT=notaduration"})
	require.Error(t, err)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	_, err := Load([]string{"JWT_SECRET=s"})
	require.Error(t, err)
}
