package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setTestEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("PRESSLI_DATABASE_PATH", filepath.Join(dir, "data", "pressli.db"))
	t.Setenv("PRESSLI_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("PRESSLI_PUBLIC_DIR", filepath.Join(dir, "public"))
	t.Setenv("PRESSLI_CONTENT_DIR", dir)
	t.Setenv("PRESSLI_SESSION_SECRET", "cli-test-secret-0123")
	t.Setenv("PRESSLI_PASSWORD_COST", "4")
	t.Setenv("PRESSLI_ANALYTICS", "false")
}

func TestUserCreatePrintsRoleName(t *testing.T) {
	setTestEnv(t)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"user", "create", "--username", "root", "--email", "root@example.com", "--password", "long-enough-pw"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "created administrator \"root\" (id 1)\n", out.String())
}
