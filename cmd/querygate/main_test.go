package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/querygate/pkg/backend"
	"github.com/zen-systems/querygate/pkg/config"
	"github.com/zen-systems/querygate/pkg/selector"
)

func TestVocabularyOverridesPerBackend(t *testing.T) {
	s := config.DefaultSettings()
	s.Selection.Triggers = map[string][]string{
		"rag":     {"vibe"},
		"unknown": {"ignored"},
	}

	vocab := vocabulary(s)
	assert.Equal(t, []string{"vibe"}, vocab[backend.Retrieval])
	assert.Equal(t, selector.DefaultVocabulary()[backend.Structured], vocab[backend.Structured])
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "héll...", truncate("héllo world", 4))
}

func TestFormatList(t *testing.T) {
	assert.Equal(t, "", formatList(nil))
	assert.Equal(t, "a, b", formatList([]string{"a", "b"}))
}

func TestLoadConfigSurvivesMalformedModelsFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("QUERYGATE_HOME", home)
	require.NoError(t, os.WriteFile(filepath.Join(home, "models.yaml"), []byte("aliases: [not: a map"), 0644))

	var warn bytes.Buffer
	got := loadAliases(&warn)
	require.NotNil(t, got)
	assert.Equal(t, config.DefaultAliases().ListAliases(), got.ListAliases())
	assert.Contains(t, warn.String(), "ignoring model aliases")

	prev := configFile
	configFile = ""
	t.Cleanup(func() { configFile = prev })

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "gemini-1.5-flash", cfg.Settings.LLM.Model)
}
