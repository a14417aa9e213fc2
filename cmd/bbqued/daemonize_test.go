package main

import (
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDaemonizeWritesPidfileAndLocksOnce(t *testing.T) {
	dir := t.TempDir()
	lockfile := filepath.Join(dir, "bbqued.lock")
	pidfile := filepath.Join(dir, "bbqued.pid")

	cleanup, err := daemonize("bbqued", "", lockfile, pidfile, dir)
	require.NoError(t, err)
	defer cleanup()

	data, err := os.ReadFile(pidfile)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid())+"\n", string(data))

	_, err = daemonize("bbqued", "", lockfile, "", dir)
	assert.Error(t, err)
}

func TestDaemonizeCleanupReleasesLockAndRemovesPidfile(t *testing.T) {
	dir := t.TempDir()
	lockfile := filepath.Join(dir, "bbqued.lock")
	pidfile := filepath.Join(dir, "bbqued.pid")

	cleanup, err := daemonize("bbqued", "", lockfile, pidfile, dir)
	require.NoError(t, err)
	cleanup()

	_, err = os.Stat(pidfile)
	assert.True(t, os.IsNotExist(err))

	cleanup2, err := daemonize("bbqued", "", lockfile, "", dir)
	require.NoError(t, err)
	cleanup2()
}

func TestDaemonizeChdirsIntoRundir(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	defer os.Chdir(wd)

	cleanup, err := daemonize("bbqued", "", "", "", dir)
	require.NoError(t, err)
	defer cleanup()

	cur, err := os.Getwd()
	require.NoError(t, err)
	realDir, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	realCur, err := filepath.EvalSymlinks(cur)
	require.NoError(t, err)
	assert.Equal(t, realDir, realCur)
}

func TestSwitchUserNoopForCurrentUser(t *testing.T) {
	cur, err := user.Current()
	require.NoError(t, err)
	assert.NoError(t, switchUser(cur.Username, ""))
}

func TestSwitchUserUnknownUsernameFails(t *testing.T) {
	err := switchUser("no-such-user-bbqued-test", "")
	assert.Error(t, err)
}
