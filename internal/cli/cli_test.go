package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "broker.yaml")
	content := fmt.Sprintf(`partition:
  id: 1
  member_id: broker-0
  data_dir: %s
`, filepath.Join(dir, "data"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestWriteAndSnapshot(t *testing.T) {
	cfgPath := writeConfig(t)

	out, err := run(t, "write", "--config", cfgPath, "--payload", "first")
	require.NoError(t, err)
	assert.Equal(t, "position 1\n", out)

	out, err = run(t, "write", "--config", cfgPath, "--payload", "second")
	require.NoError(t, err)
	assert.Equal(t, "position 2\n", out)

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "data.bin"), []byte("hello"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "meta.json"), []byte(`{"position":42}`), 0644))

	out, err = run(t, "snapshot", "take", "--config", cfgPath, "--position", "2", "--source", src)
	require.NoError(t, err)
	assert.Equal(t, "snapshot 2-0-2-2 checksum 68605ed5 compaction bound 2\n", out)
}

func TestCommandErrors(t *testing.T) {
	cfgPath := writeConfig(t)

	tests := []struct {
		name string
		args []string
	}{
		{name: "missing config file", args: []string{"write", "--config", filepath.Join(t.TempDir(), "missing.yaml")}},
		{name: "empty catch-up range", args: []string{"catchup", "--config", cfgPath, "--from", "5", "--to", "3"}},
		{name: "missing snapshot source", args: []string{"snapshot", "take", "--config", cfgPath, "--position", "1"}},
		{name: "snapshot beyond commit", args: []string{
			"snapshot", "take", "--config", cfgPath, "--position", "9", "--source", t.TempDir()}},
		{name: "send without snapshot", args: []string{"snapshot", "send", "--config", cfgPath, "--member", "broker-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			assert.Error(t, err)
		})
	}
}
