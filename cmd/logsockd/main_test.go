package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fanatic/logsockd/logsockd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartConflictLeavesNoState(t *testing.T) {
	sockDir, err := os.MkdirTemp("", "lsd")
	require.NoError(t, err)
	defer os.RemoveAll(sockDir)

	dir := t.TempDir()
	cfg := logsockd.DefaultConfig()
	cfg.SocketPath = filepath.Join(sockDir, "d.sock")
	cfg.SegmentPrefix = filepath.Join(dir, "segments", "seg-")
	cfg.ErrorFile = filepath.Join(dir, "errors.log")
	cfg.LogFile = filepath.Join(dir, "ops.log")
	cfg.PIDFile = filepath.Join(dir, "logsockd.pid")
	require.NoError(t, os.WriteFile(cfg.SocketPath, nil, 0o644))

	_, err = start(cfg)
	assert.ErrorIs(t, err, logsockd.ErrAlreadyRunning)

	for _, p := range []string{cfg.LogFile, cfg.ErrorFile, cfg.PIDFile, filepath.Join(dir, "segments")} {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), "%s should not exist", p)
	}
}
