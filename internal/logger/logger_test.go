package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitParsesLevel(t *testing.T) {
	require.NoError(t, Init(Config{Level: "debug"}))
	assert.Equal(t, zerolog.DebugLevel, Get().GetLevel())
}

func TestInitDefaultsToInfo(t *testing.T) {
	require.NoError(t, Init(Config{}))
	assert.Equal(t, zerolog.InfoLevel, Get().GetLevel())
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	require.Error(t, Init(Config{Level: "shouty"}))
}
