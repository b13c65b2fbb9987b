// Package config builds the single RunnerConfig value that every runner-sync
// component reads. Nothing outside this package looks at the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/runnersync/internal/errs"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	RunnerDataDirName   = ".runner-data"
	LogsDirName         = "logs"
	PidDirName          = "pid"
	DataServicesDirName = "data-services"
	TmpDirName          = "tmp"

	DefaultTag           = "tag:ci"
	DefaultGitBranch     = "main"
	DefaultNativeSSHUser = "root"
	DefaultConfigFile    = "runner-sync.toml"
	DotEnvFile           = ".env"
	ManifestFile         = "runner.json"
	PidFile              = "runner-sync.pid"
	MetricsFile          = "runner-sync.prom"
)

const (
	ConnectionTimeout   = 30 * time.Second
	StatusCheckInterval = 2 * time.Second
	RsyncTimeout        = 5 * time.Minute
	SSHTimeout          = 60 * time.Second
	GitRetryCount       = 3
	GitRetryDelay       = 2000 * time.Millisecond
)

// SSH transport modes.
const (
	SSHModeExec   = "exec"
	SSHModeNative = "native"
)

// Environment keys.
const (
	EnvConfigPath        = "RUNNER_SYNC_CONFIG"
	EnvToolCwd           = "TOOL_CWD"
	EnvTailscaleEnable   = "TAILSCALE_ENABLE"
	EnvTailscaleClientID = "TAILSCALE_CLIENT_ID"
	EnvTailscaleSecret   = "TAILSCALE_CLIENT_SECRET"
	EnvTailscaleTags     = "TAILSCALE_TAGS"
	EnvTailscaleBin      = "TAILSCALE_BIN"
	EnvTailscaleHostname = "TAILSCALE_HOSTNAME"
	EnvServicesToStop    = "SERVICES_TO_STOP"
	EnvSSHPath           = "SSH_PATH"
	EnvSSHMode           = "SSH_MODE"
	EnvSSHUser           = "SSH_USER"
	EnvSSHKeyPath        = "SSH_KEY_PATH"
	EnvSSHKnownHosts     = "SSH_KNOWN_HOSTS"
	EnvSSHInsecure       = "SSH_INSECURE"
	EnvRemoteDataDir     = "REMOTE_DATA_DIR"
	EnvGitPushEnabled    = "GIT_PUSH_ENABLED"
	EnvGitBranch         = "GIT_BRANCH"
	EnvGitBin            = "GIT_BIN"
	EnvRsyncEnabled      = "RSYNC_ENABLED"
	EnvRsyncPath         = "RSYNC_PATH"
	EnvMetricsEnabled    = "METRICS_ENABLED"
)

var DefaultServicesToStop = []string{"cloudflared", "pocketbase", "http-server"}

// RunnerConfig is built once at startup and treated as read-only afterwards.
type RunnerConfig struct {
	Cwd            string `validate:"required"`
	RunnerDataDir  string `validate:"required"`
	ConfigFile     string
	Verbose        bool
	Quiet          bool
	MetricsEnabled bool

	Tailscale      TailscaleConfig
	ServicesToStop []string
	SSH            SSHConfig
	Git            GitConfig
	Rsync          RsyncConfig
}

type TailscaleConfig struct {
	Enable       bool
	ClientID     string `validate:"required_if=Enable true"`
	ClientSecret string `validate:"required_if=Enable true"`
	Tags         []string
	Binary       string `validate:"required"`
	Hostname     string
}

type SSHConfig struct {
	Path          string `validate:"required"`
	Mode          string `validate:"oneof=exec native"`
	User          string
	KeyPath       string `validate:"required_if=Mode native"`
	KnownHosts    string
	Insecure      bool
	RemoteDataDir string `validate:"required"`
}

type GitConfig struct {
	PushEnabled bool
	Branch      string `validate:"required"`
	Binary      string `validate:"required"`
}

type RsyncConfig struct {
	Enabled bool
	Path    string `validate:"required_if=Enabled true"`
}

// Overrides carries the command-line flags, which win over every other source.
type Overrides struct {
	Cwd        string
	ConfigPath string
	Verbose    bool
	Quiet      bool
}

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

// Default returns the built-in configuration rooted at cwd.
func Default(cwd string) RunnerConfig {
	return RunnerConfig{
		Cwd:            cwd,
		RunnerDataDir:  filepath.Join(cwd, RunnerDataDirName),
		MetricsEnabled: true,
		Tailscale: TailscaleConfig{
			Tags:   []string{DefaultTag},
			Binary: "tailscale",
		},
		ServicesToStop: append([]string(nil), DefaultServicesToStop...),
		SSH: SSHConfig{
			Path:          "ssh",
			Mode:          SSHModeExec,
			RemoteDataDir: RunnerDataDirName,
		},
		Git: GitConfig{
			PushEnabled: true,
			Branch:      DefaultGitBranch,
			Binary:      "git",
		},
		Rsync: RsyncConfig{
			Enabled: true,
			Path:    "rsync",
		},
	}
}

// Load resolves the configuration from the process environment, an optional
// .env file in the working directory, and an optional TOML file.
func Load(o Overrides) (RunnerConfig, error) {
	cwd, err := resolveCwd(o, os.LookupEnv)
	if err != nil {
		return RunnerConfig{}, err
	}
	dotenv, err := readDotEnv(filepath.Join(cwd, DotEnvFile))
	if err != nil {
		return RunnerConfig{}, err
	}
	return LoadWith(o, chainLookup(os.LookupEnv, dotenv))
}

// LoadWith resolves the configuration reading variables through lookup only.
func LoadWith(o Overrides, lookup LookupFunc) (RunnerConfig, error) {
	cwd, err := resolveCwd(o, lookup)
	if err != nil {
		return RunnerConfig{}, err
	}
	cfg := Default(cwd)

	path, required := configFilePath(o, lookup, cwd)
	if path != "" {
		if err := applyFile(&cfg, path, required); err != nil {
			return RunnerConfig{}, err
		}
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return RunnerConfig{}, err
	}

	cfg.Verbose = o.Verbose
	cfg.Quiet = o.Quiet && !o.Verbose

	if err := Validate(cfg); err != nil {
		return RunnerConfig{}, err
	}
	return cfg, nil
}

// Validate checks struct constraints and reports them as a validation error.
func Validate(cfg RunnerConfig) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			parts := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				parts = append(parts, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return errs.Validationf("config invalid: %s", strings.Join(parts, ", "))
		}
		return errs.Wrap(errs.Validation, "config invalid", err)
	}
	return nil
}

func (c RunnerConfig) LogsDir() string         { return filepath.Join(c.RunnerDataDir, LogsDirName) }
func (c RunnerConfig) PidDir() string          { return filepath.Join(c.RunnerDataDir, PidDirName) }
func (c RunnerConfig) DataServicesDir() string { return filepath.Join(c.RunnerDataDir, DataServicesDirName) }
func (c RunnerConfig) TmpDir() string          { return filepath.Join(c.RunnerDataDir, TmpDirName) }
func (c RunnerConfig) ManifestPath() string    { return filepath.Join(c.TmpDir(), ManifestFile) }
func (c RunnerConfig) PidPath() string         { return filepath.Join(c.PidDir(), PidFile) }
func (c RunnerConfig) MetricsPath() string     { return filepath.Join(c.LogsDir(), MetricsFile) }

// DirectoriesToEnsure lists the data directory root followed by its subdirectories.
func (c RunnerConfig) DirectoriesToEnsure() []string {
	return []string{c.RunnerDataDir, c.LogsDir(), c.PidDir(), c.DataServicesDir(), c.TmpDir()}
}

// VolatileDirs lists the subdirectories rewritten on every run. They are
// never committed or pulled.
func (c RunnerConfig) VolatileDirs() []string {
	return []string{c.LogsDir(), c.PidDir(), c.TmpDir()}
}

// Tags returns a copy of the overlay tag filter.
func (c RunnerConfig) Tags() []string {
	return append([]string(nil), c.Tailscale.Tags...)
}

// Services returns a copy of the services to stop on the previous runner.
func (c RunnerConfig) Services() []string {
	return append([]string(nil), c.ServicesToStop...)
}

func resolveCwd(o Overrides, lookup LookupFunc) (string, error) {
	cwd := strings.TrimSpace(o.Cwd)
	if cwd == "" {
		if v, ok := lookup(EnvToolCwd); ok {
			cwd = strings.TrimSpace(v)
		}
	}
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", errs.Wrap(errs.Validation, "resolve working directory", err)
		}
		cwd = wd
	}
	abs, err := filepath.Abs(cwd)
	if err != nil {
		return "", errs.Wrap(errs.Validation, "resolve working directory", err)
	}
	return abs, nil
}

func configFilePath(o Overrides, lookup LookupFunc, cwd string) (string, bool) {
	if p := strings.TrimSpace(o.ConfigPath); p != "" {
		return p, true
	}
	if v, ok := lookup(EnvConfigPath); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), true
	}
	p := filepath.Join(cwd, DefaultConfigFile)
	if _, err := os.Stat(p); err == nil {
		return p, false
	}
	return "", false
}

func readDotEnv(path string) (map[string]string, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, errs.Wrap(errs.Validation, "read "+path, err)
	}
	return values, nil
}

// chainLookup prefers the process environment over .env values.
func chainLookup(primary LookupFunc, fallback map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		if v, ok := primary(key); ok {
			return v, true
		}
		v, ok := fallback[key]
		return v, ok
	}
}

func applyEnv(cfg *RunnerConfig, lookup LookupFunc) error {
	var err error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	flag := func(key string, dst *bool) {
		if err != nil {
			return
		}
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		b, parseErr := strconv.ParseBool(strings.TrimSpace(v))
		if parseErr != nil {
			err = errs.Validationf("%s: invalid boolean %q", key, v)
			return
		}
		*dst = b
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = SplitList(v)
		}
	}

	flag(EnvTailscaleEnable, &cfg.Tailscale.Enable)
	str(EnvTailscaleClientID, &cfg.Tailscale.ClientID)
	str(EnvTailscaleSecret, &cfg.Tailscale.ClientSecret)
	list(EnvTailscaleTags, &cfg.Tailscale.Tags)
	str(EnvTailscaleBin, &cfg.Tailscale.Binary)
	str(EnvTailscaleHostname, &cfg.Tailscale.Hostname)
	list(EnvServicesToStop, &cfg.ServicesToStop)
	str(EnvSSHPath, &cfg.SSH.Path)
	str(EnvSSHMode, &cfg.SSH.Mode)
	str(EnvSSHUser, &cfg.SSH.User)
	str(EnvSSHKeyPath, &cfg.SSH.KeyPath)
	str(EnvSSHKnownHosts, &cfg.SSH.KnownHosts)
	flag(EnvSSHInsecure, &cfg.SSH.Insecure)
	str(EnvRemoteDataDir, &cfg.SSH.RemoteDataDir)
	flag(EnvGitPushEnabled, &cfg.Git.PushEnabled)
	str(EnvGitBranch, &cfg.Git.Branch)
	str(EnvGitBin, &cfg.Git.Binary)
	flag(EnvRsyncEnabled, &cfg.Rsync.Enabled)
	str(EnvRsyncPath, &cfg.Rsync.Path)
	flag(EnvMetricsEnabled, &cfg.MetricsEnabled)
	return err
}

type fileConfig struct {
	TailscaleEnable   bool     `toml:"tailscale_enable"`
	TailscaleTags     []string `toml:"tailscale_tags"`
	TailscaleBin      string   `toml:"tailscale_bin"`
	TailscaleHostname string   `toml:"tailscale_hostname"`
	ServicesToStop    []string `toml:"services_to_stop"`
	SSHPath           string   `toml:"ssh_path"`
	SSHMode           string   `toml:"ssh_mode"`
	SSHUser           string   `toml:"ssh_user"`
	SSHKeyPath        string   `toml:"ssh_key_path"`
	SSHKnownHosts     string   `toml:"ssh_known_hosts"`
	SSHInsecure       bool     `toml:"ssh_insecure"`
	RemoteDataDir     string   `toml:"remote_data_dir"`
	GitPushEnabled    bool     `toml:"git_push_enabled"`
	GitBranch         string   `toml:"git_branch"`
	GitBin            string   `toml:"git_bin"`
	RsyncEnabled      bool     `toml:"rsync_enabled"`
	RsyncPath         string   `toml:"rsync_path"`
	MetricsEnabled    bool     `toml:"metrics_enabled"`
}

// LoadFile validates a standalone TOML file against the defaults rooted at the
// file's directory.
func LoadFile(path string) (RunnerConfig, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return RunnerConfig{}, errs.Wrap(errs.Validation, "resolve config path", err)
	}
	cfg := Default(filepath.Dir(abs))
	if err := applyFile(&cfg, abs, true); err != nil {
		return RunnerConfig{}, err
	}
	return cfg, Validate(cfg)
}

func applyFile(cfg *RunnerConfig, path string, required bool) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return errs.Wrap(errs.Validation, "load config "+path, err)
	}
	cfg.ConfigFile = path

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return errs.Validationf("config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}

	if meta.IsDefined("tailscale_enable") {
		cfg.Tailscale.Enable = raw.TailscaleEnable
	}
	if meta.IsDefined("tailscale_tags") {
		cfg.Tailscale.Tags = normalizeList(raw.TailscaleTags)
	}
	if meta.IsDefined("tailscale_bin") {
		cfg.Tailscale.Binary = strings.TrimSpace(raw.TailscaleBin)
	}
	if meta.IsDefined("tailscale_hostname") {
		cfg.Tailscale.Hostname = strings.TrimSpace(raw.TailscaleHostname)
	}
	if meta.IsDefined("services_to_stop") {
		cfg.ServicesToStop = normalizeList(raw.ServicesToStop)
	}
	if meta.IsDefined("ssh_path") {
		cfg.SSH.Path = strings.TrimSpace(raw.SSHPath)
	}
	if meta.IsDefined("ssh_mode") {
		cfg.SSH.Mode = strings.TrimSpace(raw.SSHMode)
	}
	if meta.IsDefined("ssh_user") {
		cfg.SSH.User = strings.TrimSpace(raw.SSHUser)
	}
	if meta.IsDefined("ssh_key_path") {
		cfg.SSH.KeyPath = strings.TrimSpace(raw.SSHKeyPath)
	}
	if meta.IsDefined("ssh_known_hosts") {
		cfg.SSH.KnownHosts = strings.TrimSpace(raw.SSHKnownHosts)
	}
	if meta.IsDefined("ssh_insecure") {
		cfg.SSH.Insecure = raw.SSHInsecure
	}
	if meta.IsDefined("remote_data_dir") {
		cfg.SSH.RemoteDataDir = strings.TrimSpace(raw.RemoteDataDir)
	}
	if meta.IsDefined("git_push_enabled") {
		cfg.Git.PushEnabled = raw.GitPushEnabled
	}
	if meta.IsDefined("git_branch") {
		cfg.Git.Branch = strings.TrimSpace(raw.GitBranch)
	}
	if meta.IsDefined("git_bin") {
		cfg.Git.Binary = strings.TrimSpace(raw.GitBin)
	}
	if meta.IsDefined("rsync_enabled") {
		cfg.Rsync.Enabled = raw.RsyncEnabled
	}
	if meta.IsDefined("rsync_path") {
		cfg.Rsync.Path = strings.TrimSpace(raw.RsyncPath)
	}
	if meta.IsDefined("metrics_enabled") {
		cfg.MetricsEnabled = raw.MetricsEnabled
	}
	return nil
}

// SplitList splits a comma separated value, dropping blank entries.
func SplitList(raw string) []string {
	return normalizeList(strings.Split(raw, ","))
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		v := strings.TrimSpace(item)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
