// ABOUTME: SSH executor that runs exactly one command per administrative session
// ABOUTME: Captures stdout/stderr separately and tears the session down on every path

package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/2389/vpsbot/internal/provision"
)

const (
	defaultPort           = 22
	defaultDialTimeout    = 10 * time.Second
	defaultMaxOutputBytes = 1 << 20 // 1 MiB per stream
)

// ErrConnection is matched by every *ConnectionError via errors.Is.
var ErrConnection = errors.New("remote session could not be established")

// ErrTimeout is returned when the remote command does not finish before the context
// deadline. The session has already been closed when it is returned.
var ErrTimeout = errors.New("remote command timed out")

// ConnectionError is an infrastructure fault: the host was unreachable, rejected our
// credentials, presented an unexpected host key, or dropped the session.
type ConnectionError struct {
	Op   string // "dial", "handshake", "session" or "wait"
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Is reports whether target is ErrConnection.
func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// Result is the captured outcome of one remote command.
type Result struct {
	Stdout        string
	Stderr        string
	ExitStatus    int
	ExitSucceeded bool
	Duration      time.Duration
}

// Failed reports whether the command failed: a non-zero exit status or any
// output on the error stream. pct can print a fatal error and still exit 0.
func (r *Result) Failed() bool {
	return !r.ExitSucceeded || strings.TrimSpace(r.Stderr) != ""
}

// DialFunc opens the transport connection for a session.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Config holds the executor's static connection settings.
type Config struct {
	Host       string
	Port       int
	User       string
	Password   string
	PrivateKey []byte

	// HostKeyCallback verifies the server's identity. Required; see HostKeyPolicy.
	HostKeyCallback ssh.HostKeyCallback

	// DialTimeout bounds TCP connect and the SSH handshake when the context has no
	// earlier deadline. If zero, defaultDialTimeout is used.
	DialTimeout time.Duration

	// MaxOutputBytes caps each captured stream. If zero, defaultMaxOutputBytes is used.
	MaxOutputBytes int

	// Dial opens the transport. If nil, a net.Dialer is used.
	Dial DialFunc
}

// Executor runs commands on one fixed host. Every Execute call opens and closes its
// own connection; no state is kept between calls.
type Executor struct {
	config  Config
	auth    []ssh.AuthMethod
	addr    string
	logger  *slog.Logger
	onClose func() // test hook, called after the client is closed
}

// NewExecutor validates cfg and returns an Executor.
func NewExecutor(cfg Config, logger *slog.Logger) (*Executor, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("host cannot be empty")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("user cannot be empty")
	}
	if cfg.HostKeyCallback == nil {
		return nil, fmt.Errorf("host key callback is required")
	}

	// Copy config to avoid mutating caller's struct
	c := cfg
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.MaxOutputBytes == 0 {
		c.MaxOutputBytes = defaultMaxOutputBytes
	}
	if c.Dial == nil {
		d := &net.Dialer{}
		c.Dial = d.DialContext
	}

	var methods []ssh.AuthMethod
	if len(c.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(c.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("parsing private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if c.Password != "" {
		methods = append(methods, ssh.Password(c.Password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("either a password or a private key is required")
	}

	if logger == nil {
		logger = slog.Default()
	}

	addr := net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	return &Executor{
		config: c,
		auth:   methods,
		addr:   addr,
		logger: logger.With("component", "remote", "addr", addr),
	}, nil
}

// Addr returns the host:port the executor connects to.
func (e *Executor) Addr() string { return e.addr }

// Execute opens a session, runs cmd, and closes the session. A failed command
// (see Result.Failed) is reported in the Result, not as an error. Errors are
// *ConnectionError or ErrTimeout (possibly wrapping the context error).
func (e *Executor) Execute(ctx context.Context, cmd provision.Command) (*Result, error) {
	start := time.Now()

	client, err := e.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = client.Close()
		if e.onClose != nil {
			e.onClose()
		}
	}()

	session, err := client.NewSession()
	if err != nil {
		return nil, &ConnectionError{Op: "session", Addr: e.addr, Err: err}
	}
	defer func() { _ = session.Close() }()

	stdout := &limitWriter{limit: e.config.MaxOutputBytes}
	stderr := &limitWriter{limit: e.config.MaxOutputBytes}
	session.Stdout = stdout
	session.Stderr = stderr

	e.logger.Debug("running remote command", "command", cmd.Redacted())

	if err := session.Start(cmd.String()); err != nil {
		return nil, &ConnectionError{Op: "session", Addr: e.addr, Err: err}
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case <-ctx.Done():
		// Best effort; many servers ignore signals. Closing the client is what
		// actually abandons the command.
		_ = session.Signal(ssh.SIGKILL)
		e.logger.Warn("remote command abandoned", "elapsed", time.Since(start), "error", ctx.Err())
		return nil, fmt.Errorf("%w after %s: %w", ErrTimeout, time.Since(start).Round(time.Millisecond), ctx.Err())
	case err := <-done:
		res := &Result{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Duration: time.Since(start),
		}

		var exitErr *ssh.ExitError
		var missingErr *ssh.ExitMissingError
		switch {
		case err == nil:
			res.ExitSucceeded = true
		case errors.As(err, &exitErr):
			res.ExitStatus = exitErr.ExitStatus()
		case errors.As(err, &missingErr):
			res.ExitStatus = -1
		default:
			return nil, &ConnectionError{Op: "wait", Addr: e.addr, Err: err}
		}

		e.logger.Debug("remote command finished",
			"exit_status", res.ExitStatus,
			"stdout_bytes", len(res.Stdout),
			"stderr_bytes", len(res.Stderr),
			"duration", res.Duration,
		)
		return res, nil
	}
}

// connect dials and performs the SSH handshake, bounded by the earlier of the
// context deadline and DialTimeout.
func (e *Executor) connect(ctx context.Context) (*ssh.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, e.config.DialTimeout)
	defer cancel()

	conn, err := e.config.Dial(dialCtx, "tcp", e.addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w while connecting: %w", ErrTimeout, ctx.Err())
		}
		return nil, &ConnectionError{Op: "dial", Addr: e.addr, Err: err}
	}

	if deadline, ok := dialCtx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	// The deadline alone does not interrupt a handshake stuck in a callback, so
	// close the conn if the context ends first.
	stop := context.AfterFunc(dialCtx, func() { _ = conn.Close() })

	clientConfig := &ssh.ClientConfig{
		User:            e.config.User,
		Auth:            e.auth,
		HostKeyCallback: e.config.HostKeyCallback,
		Timeout:         e.config.DialTimeout,
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, e.addr, clientConfig)
	if !stop() || err != nil {
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w during handshake: %w", ErrTimeout, ctx.Err())
		}
		if err == nil {
			err = dialCtx.Err()
		}
		return nil, &ConnectionError{Op: "handshake", Addr: e.addr, Err: err}
	}

	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

// limitWriter buffers up to limit bytes and silently discards the rest so a chatty
// command cannot exhaust memory.
type limitWriter struct {
	buf   bytes.Buffer
	limit int
}

func (w *limitWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		w.buf.Write(p[:remaining])
		return len(p), nil
	}
	return w.buf.Write(p)
}

func (w *limitWriter) String() string { return w.buf.String() }
