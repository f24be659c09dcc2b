package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runValidate(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newValidateCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCmd_AcceptsWellFormedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "router.yaml")
	require.NoError(t, os.WriteFile(path, []byte("strategy: priority\nsingleflight: true\n"), 0o644))

	out, err := runValidate(t, path)
	require.NoError(t, err)
	assert.Contains(t, out, "Config is valid")
	assert.Contains(t, out, "Strategy:     priority")
}

func TestValidateCmd_RejectsUnknownStrategy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "router.yaml")
	require.NoError(t, os.WriteFile(path, []byte("strategy: not_a_real_strategy\n"), 0o644))

	_, err := runValidate(t, path)
	assert.Error(t, err)
}

func TestValidateCmd_RejectsMissingFile(t *testing.T) {
	_, err := runValidate(t, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
