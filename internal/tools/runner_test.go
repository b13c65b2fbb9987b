package tools

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExecRunnerCapturesOutput(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	stdout, stderr, code, err := ExecRunner{}.Run(context.Background(), "sh", "-c", "echo out; echo err >&2; exit 3")
	require.Error(t, err)
	require.Equal(t, int32(3), code)
	require.Equal(t, "out\n", string(stdout))
	require.Equal(t, "err\n", string(stderr))
}

func TestExecRunnerMissingBinary(t *testing.T) {
	_, _, code, err := ExecRunner{}.Run(context.Background(), "runner-sync-definitely-missing-binary")
	require.Error(t, err)
	require.Equal(t, ExitNotFound, code)
}

func TestExecRunnerHonoursDeadline(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, _, _, err := ExecRunner{}.Run(ctx, "sleep", "5")
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

type scriptedRunner struct {
	code int32
	err  error
}

func (s scriptedRunner) Run(context.Context, string, ...string) ([]byte, []byte, int32, error) {
	return []byte(" partial \n"), []byte("denied\n"), s.code, s.err
}

func TestRunCheckedWrapsFailure(t *testing.T) {
	base := errors.New("exit status 128")
	_, err := RunChecked(context.Background(), scriptedRunner{code: 128, err: base}, "git", "push", "origin")
	require.Error(t, err)
	require.ErrorIs(t, err, base)
	require.Equal(t, int32(128), ExitCodeOf(err))
	require.Contains(t, err.Error(), `stderr="denied"`)
	require.Contains(t, err.Error(), `args="push origin"`)
}

func TestRunCheckedSuccess(t *testing.T) {
	out, err := RunChecked(context.Background(), scriptedRunner{}, "git", "status")
	require.NoError(t, err)
	require.Equal(t, " partial \n", string(out))
	require.Equal(t, int32(-1), ExitCodeOf(err))
}
