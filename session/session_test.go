package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreGetReturnsCopy(t *testing.T) {
	st := NewStore("")
	require.NoError(t, st.Put("t1", []Message{{Role: RoleUser, Content: "hello"}}))

	got := st.Get("t1")
	got[0].Content = "mutated"
	got = append(got, Message{Role: RoleAssistant, Content: "extra"})

	again := st.Get("t1")
	require.Len(t, again, 1)
	assert.Equal(t, "hello", again[0].Content)
}

func TestStoreUnknownThreadIsEmpty(t *testing.T) {
	assert.Empty(t, NewStore("").Get("missing"))
}

func TestStorePersistsAndResumes(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(dir)
	msgs := []Message{
		{Role: RoleUser, Content: "1→open the page"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ToolCallID: "call_0", Name: "browser_navigate", Args: map[string]interface{}{"url": "http://localhost"}}}},
		{Role: RoleTool, Content: "ok", ToolCalls: []ToolCall{{ToolCallID: "call_0", Name: "browser_navigate"}}},
		{Role: RoleAssistant, Content: "done"},
	}
	require.NoError(t, st.Put("thread-a", msgs))
	assert.FileExists(t, filepath.Join(dir, "thread-a.json"))

	resumed := NewStore(dir)
	require.NoError(t, resumed.Load("thread-a"))
	got := resumed.Get("thread-a")
	require.Len(t, got, 4)
	assert.Equal(t, "browser_navigate", got[1].ToolCalls[0].Name)
	assert.Equal(t, "http://localhost", got[1].ToolCalls[0].Args["url"])
}

func TestLoadWithoutDirectory(t *testing.T) {
	err := NewStore("").Load("thread-a")
	assert.Error(t, err)
}

func TestInMemorySessionSaveIsNoop(t *testing.T) {
	s, err := New("", "memory")
	require.NoError(t, err)
	s.Messages = append(s.Messages, Message{Role: RoleUser, Content: "hi"})
	assert.NoError(t, s.Save())
	assert.Len(t, s.Messages, 1)
}

func TestThreadIDMustStayInsideDirectory(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(dir)
	for _, id := range []string{"../x", "../../escape", "a/b", `a\b`, "..", ".", ""} {
		assert.Error(t, ValidateName(id), id)
		assert.Error(t, st.Put(id, []Message{{Role: RoleUser, Content: "hi"}}), id)
		assert.Error(t, st.Load(id), id)
	}
	assert.NoError(t, ValidateName("6f1c2a3e-thread"))

	entries, err := os.ReadDir(filepath.Dir(dir))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, "x.json", e.Name())
		assert.NotEqual(t, "escape.json", e.Name())
	}
}
