// Package remote runs the handover commands on the previous runner.
package remote

import (
	"context"
	"path"
	"strings"

	"github.com/danmuck/runnersync/internal/config"
	"github.com/danmuck/runnersync/internal/tools"
	"github.com/rs/zerolog"
)

// Shell reaches another overlay host.
//
// StopServices is best effort: a nil error means the stop request was
// delivered, not that every service is verified stopped.
type Shell interface {
	CheckConnection(ctx context.Context, address string) bool
	StopServices(ctx context.Context, address string, services []string) error
}

const checkCommand = "true"

// StopScript renders one shell script that stops every service. For each
// service it kills the pid recorded under <dataDir>/pid/<service>.pid, then
// falls back to pkill. Each step tolerates failure.
func StopScript(dataDir string, services []string) string {
	if dataDir == "" {
		dataDir = ".runner-data"
	}
	lines := make([]string, 0, len(services))
	for _, svc := range services {
		pidFile := shellEscape(path.Join(dataDir, "pid", svc+".pid"))
		name := shellEscape(svc)
		lines = append(lines,
			"if [ -f "+pidFile+" ]; then kill \"$(cat "+pidFile+")\" 2>/dev/null || true; rm -f "+pidFile+"; fi; "+
				"pkill -f "+name+" 2>/dev/null || true",
		)
	}
	lines = append(lines, "exit 0")
	return strings.Join(lines, "\n")
}

// remoteCommand wraps script so the remote login shell hands it to sh.
func remoteCommand(script string) string {
	return joinCommand("sh", []string{"-c", script})
}

func joinCommand(cmd string, args []string) string {
	if len(args) == 0 {
		return shellEscape(cmd)
	}

	var builder strings.Builder
	builder.WriteString(shellEscape(cmd))
	for _, arg := range args {
		builder.WriteByte(' ')
		builder.WriteString(shellEscape(arg))
	}
	return builder.String()
}

func shellEscape(value string) string {
	if value == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}

// New builds the Shell selected by cfg.Mode. An empty user leaves exec mode
// to the ssh client configuration and means root in native mode.
func New(cfg config.SSHConfig, runner tools.CommandRunner, log zerolog.Logger) Shell {
	if cfg.Mode == config.SSHModeNative {
		user := cfg.User
		if user == "" {
			user = config.DefaultNativeSSHUser
		}
		return &NativeShell{
			User:                        user,
			KeyPath:                     cfg.KeyPath,
			KnownHostsPath:              cfg.KnownHosts,
			InsecureSkipHostKeyChecking: cfg.Insecure,
			RemoteDataDir:               cfg.RemoteDataDir,
			Timeout:                     config.SSHTimeout,
			Log:                         log,
		}
	}
	return &ExecShell{
		Path:          cfg.Path,
		User:          cfg.User,
		RemoteDataDir: cfg.RemoteDataDir,
		Timeout:       config.SSHTimeout,
		Runner:        runner,
		Log:           log,
	}
}
