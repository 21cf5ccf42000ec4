package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Craig-0219/potato-autoA/internal/state"
)

// Workspace is a temp directory holding a config file, a task with its
// recipient lists and templates, and a data directory for run state.
type Workspace struct {
	Dir        string
	ConfigPath string
	TaskPath   string
	DataDir    string
}

// SetupWorkspace writes the sample fixtures into a fresh temp directory.
// The directory is removed when the test completes.
func SetupWorkspace(t *testing.T) *Workspace {
	t.Helper()

	dir := t.TempDir()
	ws := &Workspace{
		Dir:        dir,
		ConfigPath: filepath.Join(dir, "autoa.yaml"),
		TaskPath:   filepath.Join(dir, "greet.yaml"),
		DataDir:    filepath.Join(dir, ".autoa"),
	}
	require.NoError(t, os.MkdirAll(ws.DataDir, 0o755))

	WriteTestFile(t, dir, "autoa.yaml", []byte(SampleConfig))
	WriteTestFile(t, dir, "greet.yaml", []byte(SampleTask))
	WriteTestFile(t, dir, "recipients.csv", []byte(SampleRecipients))
	WriteTestFile(t, dir, "blacklist.txt", []byte(SampleBlacklist))
	WriteTestFile(t, dir, "unsubscribe.txt", nil)
	for _, name := range SampleTemplates {
		WriteTestFile(t, dir, name, fakePNG)
	}
	return ws
}

// Path joins name onto the workspace directory.
func (ws *Workspace) Path(name string) string {
	return filepath.Join(ws.Dir, name)
}

// Store opens the workspace's run state.
func (ws *Workspace) Store() *state.Store {
	return state.NewStore(ws.DataDir)
}

// Write replaces a workspace file.
func (ws *Workspace) Write(t *testing.T, name, content string) {
	t.Helper()
	WriteTestFile(t, ws.Dir, name, []byte(content))
}

// MustMarshalJSON marshals v to JSON, failing the test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

// MustUnmarshalJSON unmarshals JSON data into v, failing the test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(data, v))
}

// WriteTestFile writes content under basePath, creating parent directories.
func WriteTestFile(t *testing.T, basePath, relativePath string, content []byte) {
	t.Helper()
	fullPath := filepath.Join(basePath, relativePath)
	require.NoError(t, os.MkdirAll(filepath.Dir(fullPath), 0o755))
	require.NoError(t, os.WriteFile(fullPath, content, 0o644))
}
