package remote

import (
	"context"
	"strings"
	"time"

	"github.com/danmuck/runnersync/internal/errs"
	"github.com/danmuck/runnersync/internal/tools"
	"github.com/rs/zerolog"
)

// ExecShell drives the local ssh binary.
type ExecShell struct {
	Path          string
	User          string
	RemoteDataDir string
	Timeout       time.Duration
	Runner        tools.CommandRunner
	Log           zerolog.Logger
}

var _ Shell = (*ExecShell)(nil)

func (s *ExecShell) baseArgs(address string) []string {
	args := []string{
		"-o", "BatchMode=yes",
		"-o", "ConnectTimeout=10",
		"-o", "StrictHostKeyChecking=no",
	}
	if s.User != "" {
		args = append(args, "-l", s.User)
	}
	return append(args, address)
}

func (s *ExecShell) run(ctx context.Context, address, script string) error {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	runner := s.Runner
	if runner == nil {
		runner = tools.ExecRunner{}
	}
	bin := s.Path
	if strings.TrimSpace(bin) == "" {
		bin = "ssh"
	}
	args := append(s.baseArgs(address), remoteCommand(script))
	_, err := tools.RunChecked(ctx, runner, bin, args...)
	return err
}

func (s *ExecShell) CheckConnection(ctx context.Context, address string) bool {
	if err := s.run(ctx, address, checkCommand); err != nil {
		s.Log.Debug().Err(err).Str("address", address).Int32("exit_code", tools.ExitCodeOf(err)).Msg("ssh connection check failed")
		return false
	}
	return true
}

func (s *ExecShell) StopServices(ctx context.Context, address string, services []string) error {
	s.Log.Debug().Str("address", address).Strs("services", services).Msg("ssh stop services")
	if err := s.run(ctx, address, StopScript(s.RemoteDataDir, services)); err != nil {
		return errs.Wrap(errs.Network, "ssh stop services", err)
	}
	return nil
}
