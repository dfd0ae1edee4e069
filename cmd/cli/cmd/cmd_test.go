package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crash-analysis/internal/report"
	"github.com/crash-analysis/internal/testutil"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	extraFile, fullStacks, symbolsDir, workers, printDoc = "", false, "", 0, false
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAnalyze_WritesExtra(t *testing.T) {
	dir := t.TempDir()
	dump := testutil.WriteFile(t, dir, "crash.dmp", testutil.LinuxSegfault())
	testutil.WriteFile(t, dir, "crash.extra", []byte(`{"ProductName": "Crashy", /* kept */ "Version": "1.0",}`))

	out, err := execute(t, "analyze", dump)
	require.NoError(t, err)
	assert.Empty(t, out)

	doc := testutil.DecodeJSON(t, testutil.ReadFile(t, filepath.Join(dir, "crash.extra")))
	assert.Equal(t, "Crashy", doc["ProductName"])
	assert.Equal(t, "1.0", doc["Version"])
	st := doc[report.Key].(map[string]any)
	assert.Equal(t, "OK", st["status"])
}

func TestAnalyze_PrintAndExtraFlag(t *testing.T) {
	dir := t.TempDir()
	dump := testutil.WriteFile(t, dir, "crash.dmp", testutil.LinuxSegfault())
	extra := filepath.Join(dir, "elsewhere.json")

	out, err := execute(t, "analyze", dump, "--extra", extra, "--full", "--workers", "2", "--print")
	require.NoError(t, err)

	printed := testutil.DecodeJSON(t, []byte(out))
	st := printed[report.Key].(map[string]any)
	assert.Equal(t, "SIGSEGV / SEGV_MAPERR", st["crash_info"].(map[string]any)["type"])
	assert.True(t, testutil.FileExists(t, extra))
	assert.False(t, testutil.FileExists(t, filepath.Join(dir, "crash.extra")))
}

func TestAnalyze_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, "analyze", filepath.Join(dir, "missing.dmp"))
	assert.Error(t, err)

	garbage := testutil.WriteFile(t, dir, "garbage.dmp", []byte("not a minidump"))
	_, err = execute(t, "analyze", garbage)
	assert.Error(t, err)
	assert.False(t, testutil.FileExists(t, filepath.Join(dir, "garbage.extra")))

	_, err = execute(t, "analyze")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "version "+Version)
	assert.Contains(t, out, "Go Version:")
}

func TestSymbolsInstall(t *testing.T) {
	src := t.TempDir()
	store := t.TempDir()
	good := testutil.WriteFile(t, src, "crashy.sym", []byte("MODULE Linux x86_64 0123456789ABCDEF0123456789ABCDEF0 crashy\nPUBLIC 1000 0 main\n"))
	bad := testutil.WriteFile(t, src, "notes.txt", []byte("not symbols\n"))
	t.Cleanup(func() { symbolStore = "" })

	out, err := execute(t, "symbols", "install", good, "--store", store)
	require.NoError(t, err)
	want := filepath.Join(store, "crashy", "0123456789ABCDEF0123456789ABCDEF0", "crashy.sym")
	assert.Equal(t, want+"\n", out)
	assert.True(t, testutil.FileExists(t, want))

	out, err = execute(t, "symbols", "install", good, bad, "--store", store)
	assert.Error(t, err)
	assert.Equal(t, want+"\n", out)
}
