// ABOUTME: In-process SSH server used by executor tests
// ABOUTME: Handles exec requests with a pluggable handler and reports disconnects

package remote

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

const (
	testUser     = "root"
	testPassword = "correct horse"
)

// execHandler runs a command. connDone is closed when the client disconnects.
type execHandler func(cmd string, stdout, stderr io.Writer, connDone <-chan struct{}) uint32

type testServer struct {
	host     string
	port     int
	hostKey  ssh.Signer
	handler  execHandler
	listener net.Listener

	mu       sync.Mutex
	commands []string

	// disconnects receives one value per closed server connection.
	disconnects chan struct{}
}

func newTestServer(t *testing.T, handler execHandler) *testServer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == testUser && string(pass) == testPassword {
				return nil, nil
			}
			return nil, errors.New("password rejected")
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	s := &testServer{
		host:        host,
		port:        port,
		hostKey:     signer,
		handler:     handler,
		listener:    ln,
		disconnects: make(chan struct{}, 16),
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn, cfg)
		}
	}()
	return s
}

func (s *testServer) serve(nConn net.Conn, cfg *ssh.ServerConfig) {
	defer func() {
		_ = nConn.Close()
		s.disconnects <- struct{}{}
	}()

	sconn, chans, reqs, err := ssh.NewServerConn(nConn, cfg)
	if err != nil {
		return
	}
	defer func() { _ = sconn.Close() }()
	go ssh.DiscardRequests(reqs)

	connDone := make(chan struct{})
	go func() {
		_ = sconn.Wait()
		close(connDone)
	}()

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		go s.session(ch, chReqs, connDone)
	}
}

func (s *testServer) session(ch ssh.Channel, reqs <-chan *ssh.Request, connDone <-chan struct{}) {
	defer func() { _ = ch.Close() }()

	for req := range reqs {
		if req.Type != "exec" {
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
			continue
		}

		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			_ = req.Reply(false, nil)
			return
		}
		_ = req.Reply(true, nil)

		s.mu.Lock()
		s.commands = append(s.commands, payload.Command)
		s.mu.Unlock()

		status := s.handler(payload.Command, ch, ch.Stderr(), connDone)
		_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
		return
	}
}

func (s *testServer) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// waitDisconnect fails the test unless the server sees a connection close in time.
func (s *testServer) waitDisconnect(t *testing.T) {
	t.Helper()
	select {
	case <-s.disconnects:
	case <-time.After(5 * time.Second):
		t.Fatal("server never observed the client disconnect")
	}
}
