package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

const idleScript = `
module.exports = {
  metadata: { name: "Idle", description: "does nothing", config: { qty: 2 } },
  create(ctx) { return {}; },
};`

func TestCatalogWritesRegistryAndDetectsDrift(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "idle.js")
	require.NoError(t, os.WriteFile(script, []byte(idleScript), 0o600))

	var out bytes.Buffer
	require.Error(t, run(context.Background(), []string{"-root", dir, "-check"}, &out))

	require.NoError(t, run(context.Background(), []string{"-root", dir}, &out))
	data, err := os.ReadFile(filepath.Join(dir, registryFile))
	require.NoError(t, err)
	var reg registry
	require.NoError(t, json.Unmarshal(data, &reg))
	require.Contains(t, reg.Strategies, "idle")
	require.Equal(t, "idle.js", reg.Strategies["idle"].File)
	require.Equal(t, "does nothing", reg.Strategies["idle"].Description)

	out.Reset()
	require.NoError(t, run(context.Background(), []string{"-root", dir, "-check"}, &out))
	require.Contains(t, out.String(), "up to date")

	require.NoError(t, os.WriteFile(script, []byte(idleScript+"\n// v2\n"), 0o600))
	err = run(context.Background(), []string{"-root", dir, "-check"}, &out)
	require.ErrorContains(t, err, "idle")
}

func TestCatalogRejectsEmptyDirectory(t *testing.T) {
	var out bytes.Buffer
	require.Error(t, run(context.Background(), []string{"-root", t.TempDir()}, &out))
}
