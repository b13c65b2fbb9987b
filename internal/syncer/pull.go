package syncer

import (
	"context"
	"strings"
	"time"

	"github.com/danmuck/runnersync/internal/config"
	"github.com/danmuck/runnersync/internal/tools"
	"github.com/rs/zerolog"
)

// Puller copies the previous runner's data directory with rsync over ssh.
type Puller struct {
	Enabled       bool
	RsyncPath     string
	SSHPath       string
	SSHUser       string
	RemoteDataDir string
	LocalDataDir  string
	Timeout       time.Duration
	Runner        tools.CommandRunner
	Log           zerolog.Logger
}

func NewPuller(cfg config.RunnerConfig, runner tools.CommandRunner, log zerolog.Logger) *Puller {
	if runner == nil {
		runner = tools.ExecRunner{}
	}
	return &Puller{
		Enabled:       cfg.Rsync.Enabled,
		RsyncPath:     cfg.Rsync.Path,
		SSHPath:       cfg.SSH.Path,
		SSHUser:       cfg.SSH.User,
		RemoteDataDir: cfg.SSH.RemoteDataDir,
		LocalDataDir:  cfg.RunnerDataDir,
		Timeout:       config.RsyncTimeout,
		Runner:        runner,
		Log:           log,
	}
}

// PullResult reports whether data was copied.
type PullResult struct {
	Pulled  bool
	Skipped bool
}

func (p *Puller) args(address string) []string {
	ssh := p.SSHPath
	if ssh == "" {
		ssh = "ssh"
	}
	ssh += " -o BatchMode=yes -o StrictHostKeyChecking=no"
	if p.SSHUser != "" {
		ssh += " -l " + p.SSHUser
	}
	return []string{
		"-az",
		"--exclude", config.PidDirName + "/",
		"--exclude", config.TmpDirName + "/",
		"-e", ssh,
		address + ":" + strings.TrimSuffix(p.RemoteDataDir, "/") + "/",
		strings.TrimSuffix(p.LocalDataDir, "/") + "/",
	}
}

// Pull copies from address. A failed transfer is logged and reported as not
// pulled; it never stops the handover.
func (p *Puller) Pull(ctx context.Context, address string) PullResult {
	if !p.Enabled || address == "" {
		p.Log.Debug().Bool("enabled", p.Enabled).Msg("rsync pull skipped")
		return PullResult{Skipped: true}
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	bin := p.RsyncPath
	if bin == "" {
		bin = "rsync"
	}
	if _, err := tools.RunChecked(ctx, p.Runner, bin, p.args(address)...); err != nil {
		p.Log.Warn().Err(err).Str("address", address).Msg("rsync pull failed, continuing with local data")
		return PullResult{}
	}
	p.Log.Info().Bool("ok", true).Str("address", address).Msg("pulled previous runner data")
	return PullResult{Pulled: true}
}
