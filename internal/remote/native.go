package remote

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danmuck/runnersync/internal/errs"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// NativeShell speaks SSH directly with key authentication.
type NativeShell struct {
	User                        string
	KeyPath                     string
	KnownHostsPath              string
	InsecureSkipHostKeyChecking bool
	RemoteDataDir               string
	Timeout                     time.Duration
	Log                         zerolog.Logger
}

var _ Shell = (*NativeShell)(nil)

func (s *NativeShell) CheckConnection(ctx context.Context, address string) bool {
	if _, err := s.run(ctx, address, checkCommand); err != nil {
		s.Log.Debug().Err(err).Str("address", address).Msg("ssh connection check failed")
		return false
	}
	return true
}

func (s *NativeShell) StopServices(ctx context.Context, address string, services []string) error {
	out, err := s.run(ctx, address, StopScript(s.RemoteDataDir, services))
	if err != nil {
		return errs.Wrap(errs.Network, "ssh stop services", err)
	}
	s.Log.Debug().Str("address", address).Str("output", strings.TrimSpace(out)).Msg("ssh stop services")
	return nil
}

func (s *NativeShell) run(ctx context.Context, address, script string) (string, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	client, err := s.dial(ctx, address)
	if err != nil {
		return "", err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", err
	}
	defer session.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.CombinedOutput(remoteCommand(script))
		done <- result{out: out, err: err}
	}()

	select {
	case <-ctx.Done():
		client.Close()
		return "", ctx.Err()
	case r := <-done:
		return string(r.out), r.err
	}
}

func (s *NativeShell) dial(ctx context.Context, host string) (*ssh.Client, error) {
	address, err := s.address(host)
	if err != nil {
		return nil, err
	}

	config, err := s.clientConfig()
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: s.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return ssh.NewClient(clientConn, chans, reqs), nil
}

func (s *NativeShell) address(host string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", fmt.Errorf("ssh host is required")
	}

	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}

	return net.JoinHostPort(host, "22"), nil
}

func (s *NativeShell) clientConfig() (*ssh.ClientConfig, error) {
	if s.User == "" {
		return nil, fmt.Errorf("ssh user is required")
	}

	signer, err := s.signer()
	if err != nil {
		return nil, err
	}

	var hostKeyCallback ssh.HostKeyCallback
	if s.InsecureSkipHostKeyChecking {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		callback, err := s.knownHostsCallback()
		if err != nil {
			return nil, err
		}
		hostKeyCallback = callback
	}

	return &ssh.ClientConfig{
		User:            s.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         s.Timeout,
	}, nil
}

func (s *NativeShell) signer() (ssh.Signer, error) {
	if s.KeyPath == "" {
		return nil, fmt.Errorf("ssh key path is required")
	}

	privateKey, err := os.ReadFile(s.KeyPath)
	if err != nil {
		return nil, err
	}

	return ssh.ParsePrivateKey(privateKey)
}

func (s *NativeShell) knownHostsCallback() (ssh.HostKeyCallback, error) {
	path := strings.TrimSpace(s.KnownHostsPath)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("known hosts path not set and home dir unavailable")
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}

	return knownhosts.New(path)
}
