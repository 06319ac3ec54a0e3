package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvOrFallsBackWhenUnset(t *testing.T) {
	os.Unsetenv("DUPLISWEEP_TEST_UNSET")
	assert.Equal(t, "default", envOr("DUPLISWEEP_TEST_UNSET", "default"))

	t.Setenv("DUPLISWEEP_TEST_SET", "value")
	assert.Equal(t, "value", envOr("DUPLISWEEP_TEST_SET", "default"))
}

func TestEnvBoolParsesOrFallsBack(t *testing.T) {
	t.Setenv("DUPLISWEEP_TEST_BOOL", "true")
	assert.True(t, envBool("DUPLISWEEP_TEST_BOOL", false))

	t.Setenv("DUPLISWEEP_TEST_BOOL", "not-a-bool")
	assert.True(t, envBool("DUPLISWEEP_TEST_BOOL", true))

	os.Unsetenv("DUPLISWEEP_TEST_BOOL_UNSET")
	assert.False(t, envBool("DUPLISWEEP_TEST_BOOL_UNSET", false))
}

func TestEnvIntParsesOrFallsBack(t *testing.T) {
	t.Setenv("DUPLISWEEP_TEST_INT", "7")
	assert.Equal(t, 7, envInt("DUPLISWEEP_TEST_INT", 1))

	t.Setenv("DUPLISWEEP_TEST_INT", "not-an-int")
	assert.Equal(t, 1, envInt("DUPLISWEEP_TEST_INT", 1))
}
