package invoker

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireCommand(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not found, skipping", name)
	}
}

func TestNewRunnerEmpty(t *testing.T) {
	_, err := NewRunner("   ", time.Second)
	assert.ErrorIs(t, err, ErrEmptyCommand)
}

func TestArgsPlaceholder(t *testing.T) {
	r, err := NewRunner("clamdscan --no-summary --file={} -", time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"--no-summary", "--file=/tmp/x", "-"}, r.args("/tmp/x"))

	r, err = NewRunner("clamdscan --no-summary", time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"--no-summary", "/tmp/x"}, r.args("/tmp/x"))
}

func TestRunClean(t *testing.T) {
	requireCommand(t, "true")
	r, err := NewRunner("true", time.Second)
	require.NoError(t, err)

	res, err := r.Run(context.Background(), "/dev/null")
	require.NoError(t, err)
	assert.True(t, res.Clean)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "File is clean", res.Info)
}

func TestRunUnclean(t *testing.T) {
	requireCommand(t, "sh")
	r, err := NewRunner("sh -c {}", time.Second)
	require.NoError(t, err)

	res, err := r.Run(context.Background(), "echo Eicar-Signature FOUND; exit 1")
	require.NoError(t, err)
	assert.False(t, res.Clean)
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, "Eicar-Signature FOUND", res.Info)
}

func TestRunNotFound(t *testing.T) {
	r, err := NewRunner("nonexistentscanner12345", time.Second)
	require.NoError(t, err)

	res, err := r.Run(context.Background(), "/dev/null")
	assert.ErrorIs(t, err, ErrNotRunnable)
	assert.Equal(t, ExitNotFound, res.ExitCode)
}

func TestRunTimeout(t *testing.T) {
	requireCommand(t, "sleep")
	r, err := NewRunner("sleep", 100*time.Millisecond)
	require.NoError(t, err)

	res, err := r.Run(context.Background(), "2")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, ExitTimeout, res.ExitCode)
}

func TestRunTimeoutKillsChildProcesses(t *testing.T) {
	requireCommand(t, "sh")
	requireCommand(t, "sleep")
	script := filepath.Join(t.TempDir(), "scan.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nsleep 3\necho done\n"), 0700))

	r, err := NewRunner("sh "+script, 200*time.Millisecond)
	require.NoError(t, err)

	start := time.Now()
	res, err := r.Run(context.Background(), "/dev/null")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, ExitTimeout, res.ExitCode)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRunKilledBySignalIsAnError(t *testing.T) {
	requireCommand(t, "sh")
	r, err := NewRunner("sh -c {}", time.Second)
	require.NoError(t, err)

	res, err := r.Run(context.Background(), "kill -9 $$")
	assert.ErrorIs(t, err, ErrTerminated)
	assert.False(t, res.Clean)
	assert.Empty(t, res.Info)
}

func TestNewRunnerRejectsQuotes(t *testing.T) {
	for _, template := range []string{
		"sh -c 'clamdscan {}'",
		`sh -c "clamdscan {}"`,
		"sh -c `clamdscan`",
	} {
		_, err := NewRunner(template, time.Second)
		assert.ErrorIs(t, err, ErrQuotedCommand, template)
	}
}
