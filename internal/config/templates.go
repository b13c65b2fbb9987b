package config

import (
	"fmt"
	"strings"

	"github.com/danmuck/runnersync/internal/store"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "runner", "":
		return runnerTemplate, nil
	case "env":
		return envTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite && store.Exists(path) {
		return fmt.Errorf("config already exists: %s", path)
	}
	return store.WriteText(path, template)
}

const runnerTemplate = `tailscale_enable = false
tailscale_tags = ["tag:ci"]
tailscale_bin = "tailscale"
services_to_stop = ["cloudflared", "pocketbase", "http-server"]

ssh_path = "ssh"
ssh_mode = "exec"
remote_data_dir = ".runner-data"

git_push_enabled = true
git_branch = "main"
git_bin = "git"

rsync_enabled = true
rsync_path = "rsync"

metrics_enabled = true
`

const envTemplate = `TAILSCALE_ENABLE=0
TAILSCALE_CLIENT_ID=
TAILSCALE_CLIENT_SECRET=
TAILSCALE_TAGS=tag:ci
SERVICES_TO_STOP=cloudflared,pocketbase,http-server
GIT_PUSH_ENABLED=1
GIT_BRANCH=main
`
