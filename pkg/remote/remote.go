// Package remote runs commands on a deployment host over SSH.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

const defaultPort = "22"

// Config describes how to reach the deployment host.
type Config struct {
	// Host is [user@]host[:port].
	Host string
	// User is used when Host carries no user; defaults to the local user.
	User string
	// Dir is the remote deployment directory every command runs in.
	Dir string
	// KeyFile is an optional private key; the SSH agent is used as well when available.
	KeyFile string
	// KnownHostsFile defaults to ~/.ssh/known_hosts.
	KnownHostsFile string
	Timeout        time.Duration
}

// Target is a parsed host specification.
type Target struct {
	User string
	Addr string
}

// ParseHost splits [user@]host[:port] and fills defaults.
func ParseHost(spec, defaultUser string) (Target, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Target{}, errors.New("empty host")
	}

	t := Target{User: defaultUser}
	if at := strings.LastIndex(spec, "@"); at >= 0 {
		t.User, spec = spec[:at], spec[at+1:]
		if t.User == "" {
			return Target{}, fmt.Errorf("empty user in host %q", spec)
		}
	}

	host, port, err := net.SplitHostPort(spec)
	if err != nil {
		host, port = strings.Trim(spec, "[]"), defaultPort
	}
	if host == "" {
		return Target{}, errors.New("empty host name")
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return Target{}, fmt.Errorf("invalid port %q", port)
	}
	t.Addr = net.JoinHostPort(host, port)
	return t, nil
}

// Client is an SSH connection whose commands run inside the deployment directory.
type Client struct {
	conn   *ssh.Client
	dir    string
	Stdout io.Writer
	Stderr io.Writer
	logger *zap.Logger
}

// Dial connects and authenticates to the host described by cfg.
func Dial(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	defaultUser := cfg.User
	if defaultUser == "" {
		if u, err := user.Current(); err == nil {
			defaultUser = u.Username
		}
	}
	target, err := ParseHost(cfg.Host, defaultUser)
	if err != nil {
		return nil, fmt.Errorf("invalid deploy host: %w", err)
	}

	hostKeys, err := hostKeyCallback(cfg.KnownHostsFile)
	if err != nil {
		return nil, err
	}
	auth, closeAgent, err := authMethods(cfg.KeyFile)
	if err != nil {
		return nil, err
	}
	defer closeAgent()

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	clientConfig := &ssh.ClientConfig{
		User:            target.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         timeout,
	}

	dialer := net.Dialer{Timeout: timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", target.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target.Addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, target.Addr, clientConfig)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", target.Addr, err)
	}

	logger = logger.Named("remote")
	logger.Info("Connected", zap.String("user", target.User), zap.String("addr", target.Addr))

	return &Client{
		conn:   ssh.NewClient(sshConn, chans, reqs),
		dir:    cfg.Dir,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		logger: logger,
	}, nil
}

// hostKeyCallback verifies servers against a known_hosts file.
func hostKeyCallback(path string) (ssh.HostKeyCallback, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to locate known_hosts: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts %s: %w", path, err)
	}
	return cb, nil
}

// authMethods collects the key file and agent signers. The returned func
// closes the agent connection once the handshake is done.
func authMethods(keyFile string) ([]ssh.AuthMethod, func(), error) {
	var signers []ssh.Signer
	closeAgent := func() {}

	if keyFile != "" {
		pem, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse key file %s: %w", keyFile, err)
		}
		signers = append(signers, signer)
	}

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			closeAgent = func() { conn.Close() }
			if agentSigners, err := agent.NewClient(conn).Signers(); err == nil {
				signers = append(signers, agentSigners...)
			}
		}
	}

	if len(signers) == 0 {
		closeAgent()
		return nil, nil, errors.New("no SSH credentials: set DEPLOY_KEY_FILE or run an SSH agent")
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signers...)}, closeAgent, nil
}

// Command prefixes cmd with a change into the deployment directory.
func (c *Client) Command(cmd string) string {
	if c.dir == "" {
		return cmd
	}
	return "cd " + shellQuote(c.dir) + " && " + cmd
}

// Run executes cmd remotely, streaming its output.
func (c *Client) Run(ctx context.Context, cmd string) error {
	return c.run(ctx, cmd, c.Stdout, c.Stderr)
}

// Output executes cmd remotely and returns its standard output.
func (c *Client) Output(ctx context.Context, cmd string) (string, error) {
	var out bytes.Buffer
	err := c.run(ctx, cmd, &out, io.Discard)
	return out.String(), err
}

func (c *Client) run(ctx context.Context, cmd string, stdout, stderr io.Writer) error {
	session, err := c.conn.NewSession()
	if err != nil {
		return fmt.Errorf("failed to open ssh session: %w", err)
	}
	defer session.Close()

	session.Stdout = stdout
	session.Stderr = stderr

	full := c.Command(cmd)
	c.logger.Debug("Running remote command", zap.String("cmd", full))

	done := make(chan error, 1)
	go func() { done <- session.Run(full) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("remote command %q failed: %w", cmd, err)
		}
		return nil
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		return ctx.Err()
	}
}

// Close closes the SSH connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// shellQuote wraps s in single quotes for a POSIX shell.
func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r == '/' || r == '.' || r == '_' || r == '-' || r == '~' ||
			('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9'))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
