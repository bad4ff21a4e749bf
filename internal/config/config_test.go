package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvAsList(t *testing.T) {
	t.Setenv("COLLECTIONS", " bio_papers, ,chem_papers ,")
	assert.Equal(t, []string{"bio_papers", "chem_papers"}, getEnvAsList("COLLECTIONS", nil))

	t.Setenv("COLLECTIONS", "   ")
	assert.Equal(t, []string{"fallback"}, getEnvAsList("COLLECTIONS", []string{"fallback"}))
}

func TestGetEnvAsInt(t *testing.T) {
	t.Setenv("MAX_PARALLEL_LLM_CALLS", "4")
	assert.Equal(t, 4, getEnvAsInt("MAX_PARALLEL_LLM_CALLS", 8))

	t.Setenv("MAX_PARALLEL_LLM_CALLS", "many")
	assert.Equal(t, 8, getEnvAsInt("MAX_PARALLEL_LLM_CALLS", 8))
}

func TestDebug(t *testing.T) {
	assert.True(t, Config{LogLevel: "debug"}.Debug())
	assert.False(t, Config{LogLevel: "INFO"}.Debug())
}
