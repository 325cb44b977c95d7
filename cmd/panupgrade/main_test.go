package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panupgrade.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: warn\n  format: json\n"), 0o600))

	cfgFile, logLevel, logFormat = path, "debug", ""
	t.Cleanup(func() { cfgFile, logLevel, logFormat = "", "", "" })

	v, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "debug", v.GetString("logging.level"))
	assert.Equal(t, "json", v.GetString("logging.format"))
	assert.Equal(t, 4, v.GetInt("plugins.upgrade.workers"))
}

func TestSubcommandsRegistered(t *testing.T) {
	want := []string{"serve", "run", "import", "refresh", "version"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "panupgrade "), out.String())
}
