package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironca/audit"
	"github.com/jmcleod/ironca/config"
	"github.com/jmcleod/ironca/internal/util"
	"github.com/jmcleod/ironca/manager"
	"github.com/jmcleod/ironca/storage"
	"github.com/jmcleod/ironca/storage/memory"
)

func emitEvents(t *testing.T, repo storage.Repository, ca string, n int) {
	t.Helper()
	sink := audit.NewStoreSink(repo)
	for i := range n {
		e := audit.NewEvent("CA", "perf")
		e.AddField(audit.FieldCA, ca)
		e.AddField(audit.FieldEventType, "cacert")
		e.AddField(audit.FieldMessageID, i)
		require.NoError(t, e.Finalize(audit.LevelInfo, audit.StatusSuccessful, time.Millisecond))
		require.NoError(t, sink.Emit(t.Context(), e))
	}
}

func writeChain(t *testing.T, n int, mutate func(*audit.Export)) string {
	t.Helper()
	repo := memory.NewRepository()
	emitEvents(t, repo, "myca", n)
	export, err := audit.NewStoreSink(repo).Export("myca")
	require.NoError(t, err)
	if mutate != nil {
		mutate(export)
	}
	var buf bytes.Buffer
	require.NoError(t, writeExport(&buf, export))
	path := filepath.Join(t.TempDir(), "audit.json")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func TestVerifyFile_Valid(t *testing.T) {
	path := writeChain(t, 4, nil)
	var out bytes.Buffer
	require.NoError(t, verifyFile(&out, path, false))
	assert.Contains(t, out.String(), "CA:       myca")
	assert.Contains(t, out.String(), "Entries:  4")
	assert.Contains(t, out.String(), "[PASS] chain_continuity: all 4 entries link correctly")
	assert.Contains(t, out.String(), "Result: VALID")
}

func TestVerifyFile_Tampered(t *testing.T) {
	path := writeChain(t, 3, func(e *audit.Export) {
		e.Entries[1].Status = audit.StatusFailed.String()
	})
	var out bytes.Buffer
	err := verifyFile(&out, path, false)
	assert.ErrorIs(t, err, errChainInvalid)
	assert.Contains(t, out.String(), "[FAIL] chain_continuity: entry 2")
	assert.Contains(t, out.String(), "Result: INVALID (1 error(s), 0 warning(s))")
}

func TestVerifyFile_JSON(t *testing.T) {
	path := writeChain(t, 2, nil)
	var out bytes.Buffer
	require.NoError(t, verifyFile(&out, path, true))

	var result audit.VerifyResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	assert.True(t, result.Valid)
	assert.Equal(t, path, result.File)
	assert.Equal(t, "myca", result.CA)
	assert.Equal(t, 2, result.EntryCount)
}

func TestVerifyFile_Errors(t *testing.T) {
	var out bytes.Buffer
	err := verifyFile(&out, filepath.Join(t.TempDir(), "missing.json"), false)
	require.Error(t, err)
	assert.NotErrorIs(t, err, errChainInvalid)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o600))
	err = verifyFile(&out, bad, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestHashPasswordCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetIn(strings.NewReader("correct horse\n"))
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"hash-password", "--profile", util.KDFProfileInteractive})
	t.Cleanup(func() {
		rootCmd.SetIn(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	require.NoError(t, rootCmd.Execute())

	hash := strings.TrimSpace(out.String())
	ok, err := util.VerifyPassword(hash, "correct horse")
	require.NoError(t, err)
	assert.True(t, ok)

	rootCmd.SetIn(strings.NewReader("\n"))
	assert.Error(t, rootCmd.Execute())
}

func TestAuditExportCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "ironca.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("storage:\n  driver: bbolt\n  path: data/ironca.db\n"), 0o600))
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)

	repo, closer, err := manager.OpenRepository(t.Context(), cfg)
	require.NoError(t, err)
	emitEvents(t, repo, "myca", 3)
	require.NoError(t, closer.Close())

	outPath := filepath.Join(dir, "export.json")
	rootCmd.SetArgs([]string{"audit", "export", "MyCA", "--config", cfgPath, "--output", outPath})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		configPath, exportOutput = "", ""
	})
	require.NoError(t, rootCmd.Execute())

	var out bytes.Buffer
	require.NoError(t, verifyFile(&out, outPath, false))
	assert.Contains(t, out.String(), "Entries:  3")
}

func TestNewLogger(t *testing.T) {
	t.Cleanup(func() { logLevel, logFormat = "info", "json" })

	logLevel, logFormat = "debug", "text"
	logger, err := newLogger()
	require.NoError(t, err)
	assert.NotNil(t, logger)

	logLevel = "loud"
	_, err = newLogger()
	assert.Error(t, err)

	logLevel, logFormat = "info", "xml"
	_, err = newLogger()
	assert.Error(t, err)
}
