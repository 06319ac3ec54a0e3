package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitRejectsUnknownFormatByFallingBackToProduction(t *testing.T) {
	err := Init(Config{Level: "debug", Format: "not-a-format"})
	require.NoError(t, err)
	assert.NotNil(t, L())
}

func TestInitFallsBackToInfoOnUnparseableLevel(t *testing.T) {
	err := Init(Config{Level: "not-a-level", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, L())
}

func TestLLazilyInitializesWhenUnset(t *testing.T) {
	globalLogger = nil
	assert.NotNil(t, L())
	assert.NotNil(t, globalLogger)
}

func TestSetLevelIgnoresUnparseableLevel(t *testing.T) {
	require.NoError(t, Init(Config{Level: "info", Format: "console"}))
	before := globalLevel.Level()
	SetLevel("not-a-level")
	assert.Equal(t, before, globalLevel.Level())
}
