package assistant

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreFindByID(t *testing.T) {
	store := NewMemoryStore(Seed())

	profile, ok := store.FindByID(DefaultID)
	require.True(t, ok)
	assert.True(t, profile.HasTool(ToolMessageAnalyst))

	general, ok := store.FindByID("general")
	require.True(t, ok)
	assert.False(t, general.HasTool(ToolMessageAnalyst))

	_, ok = store.FindByID("missing")
	assert.False(t, ok)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profiles.yaml")
	content := `
profiles:
  - id: general
    name: Helper
    systemPrompt: Be brief.
  - id: finance
    name: Finance Analyst
    systemPrompt: Answer finance questions.
    tools: [start_data_analyst_conversation, message_data_analyst]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	profiles, err := LoadFile(path, Seed())
	require.NoError(t, err)
	require.Len(t, profiles, 3)

	store := NewMemoryStore(profiles)
	general, _ := store.FindByID("general")
	assert.Equal(t, "Helper", general.Name)
	assert.Equal(t, "Be brief.", general.SystemPrompt)

	finance, ok := store.FindByID("finance")
	require.True(t, ok)
	assert.True(t, finance.HasTool(ToolStartAnalystConversation))

	_, ok = store.FindByID(DefaultID)
	assert.True(t, ok)
}

func TestLoadFileRejectsMissingID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte("profiles:\n  - name: nameless\n"), 0o600))

	_, err := LoadFile(path, nil)
	require.Error(t, err)
}
