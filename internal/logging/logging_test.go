package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nftmarket/internal/config"
)

func TestNewWritesToRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "market.log")
	logger, closer, err := New(config.LogConfig{Level: "debug", Format: "json", OutputFile: path, MaxSize: 1})
	require.NoError(t, err)

	logger.WithField("order_id", 42).Info("buy order created")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"order_id":42`)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
}

func TestNewFallsBackToInfo(t *testing.T) {
	logger, _, err := New(config.LogConfig{Level: "loud"})
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}
