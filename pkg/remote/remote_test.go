package remote

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

func TestParseHost(t *testing.T) {
	tests := []struct {
		spec     string
		wantUser string
		wantAddr string
		wantErr  bool
	}{
		{"example.com", "deploy", "example.com:22", false},
		{"web@example.com", "web", "example.com:22", false},
		{"web@example.com:2222", "web", "example.com:2222", false},
		{"[::1]:2200", "deploy", "[::1]:2200", false},
		{"::1", "deploy", "[::1]:22", false},
		{"", "", "", true},
		{"@example.com", "", "", true},
		{"example.com:ssh", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := ParseHost(tt.spec, "deploy")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantUser, got.User)
			assert.Equal(t, tt.wantAddr, got.Addr)
		})
	}
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "/srv/msgvis", shellQuote("/srv/msgvis"))
	assert.Equal(t, "'/srv/my app'", shellQuote("/srv/my app"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
	assert.Equal(t, "''", shellQuote(""))
}

// testServer is a minimal SSH server that records exec requests.
type testServer struct {
	addr     string
	hostKey  ssh.PublicKey
	mu       sync.Mutex
	commands []string
}

func (s *testServer) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func startTestServer(t *testing.T, clientKey ssh.PublicKey) *testServer {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), clientKey.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("unknown key")
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	srv := &testServer{addr: ln.Addr().String(), hostKey: hostSigner.PublicKey()}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.serve(conn, cfg)
		}
	}()
	return srv
}

func (s *testServer) serve(conn net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		go func() {
			defer ch.Close()
			for req := range requests {
				if req.Type != "exec" {
					_ = req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				_ = ssh.Unmarshal(req.Payload, &payload)
				_ = req.Reply(true, nil)

				s.mu.Lock()
				s.commands = append(s.commands, payload.Command)
				s.mu.Unlock()

				var status uint32
				if strings.Contains(payload.Command, "false") {
					status = 1
				}
				fmt.Fprintf(ch, "ran %s\n", payload.Command)
				_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
				return
			}
		}()
	}
}

// writeClientFiles writes a private key and a known_hosts file trusting srv.
func writeClientFiles(t *testing.T, priv ed25519.PrivateKey, srv *testServer) (keyFile, knownHostsFile string) {
	t.Helper()
	dir := t.TempDir()

	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	keyFile = filepath.Join(dir, "id_ed25519")
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(block), 0o600))

	knownHostsFile = filepath.Join(dir, "known_hosts")
	line := knownhosts.Line([]string{knownhosts.Normalize(srv.addr)}, srv.hostKey)
	require.NoError(t, os.WriteFile(knownHostsFile, []byte(line+"\n"), 0o600))
	return keyFile, knownHostsFile
}

func newClientKey(t *testing.T) (ed25519.PrivateKey, ssh.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return priv, sshPub
}

func TestClient_RunInDeployDir(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	priv, pub := newClientKey(t)
	srv := startTestServer(t, pub)
	keyFile, knownHosts := writeClientFiles(t, priv, srv)

	client, err := Dial(context.Background(), Config{
		Host:           "deploy@" + srv.addr,
		Dir:            "/srv/msgvis",
		KeyFile:        keyFile,
		KnownHostsFile: knownHosts,
	}, zap.NewNop())
	require.NoError(t, err)
	defer client.Close()

	var out bytes.Buffer
	client.Stdout = &out

	ctx := context.Background()
	require.NoError(t, client.Run(ctx, "msgvis pull"))
	assert.Equal(t, "ran cd /srv/msgvis && msgvis pull\n", out.String())

	got, err := client.Output(ctx, "which msgvis")
	require.NoError(t, err)
	assert.Equal(t, "ran cd /srv/msgvis && which msgvis\n", got)

	err = client.Run(ctx, "false")
	require.Error(t, err)
	var exitErr *ssh.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.ExitStatus())

	assert.Equal(t, []string{
		"cd /srv/msgvis && msgvis pull",
		"cd /srv/msgvis && which msgvis",
		"cd /srv/msgvis && false",
	}, srv.Commands())
}

func TestDial_UnknownHostKey(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	priv, pub := newClientKey(t)
	srv := startTestServer(t, pub)
	keyFile, _ := writeClientFiles(t, priv, srv)

	emptyKnownHosts := filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(emptyKnownHosts, nil, 0o600))

	_, err := Dial(context.Background(), Config{
		Host:           "deploy@" + srv.addr,
		KeyFile:        keyFile,
		KnownHostsFile: emptyKnownHosts,
	}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handshake")
}

func TestDial_NoCredentials(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	knownHosts := filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(knownHosts, nil, 0o600))

	_, err := Dial(context.Background(), Config{Host: "example.invalid", KnownHostsFile: knownHosts}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no SSH credentials")
}
