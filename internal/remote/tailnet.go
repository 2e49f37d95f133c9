// ABOUTME: Optional tsnet node used to reach a Proxmox host that is only on a tailnet
// ABOUTME: Supplies a DialFunc for the executor; the node is started once at startup

package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"tailscale.com/tsnet"
)

// TailnetConfig configures the embedded tailscale node.
type TailnetConfig struct {
	Hostname  string
	AuthKey   string
	StateDir  string
	Ephemeral bool
}

// Tailnet is a running tsnet node.
type Tailnet struct {
	server *tsnet.Server
	logger *slog.Logger
}

// StartTailnet brings up a tsnet node and waits until it is connected.
func StartTailnet(ctx context.Context, cfg TailnetConfig, logger *slog.Logger) (*Tailnet, error) {
	stateDir, err := resolveTailnetStateDir(cfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey := cfg.AuthKey
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return nil, errors.New("tailscale auth key required: set tailscale.auth_key or TS_AUTHKEY")
	}

	srv := &tsnet.Server{
		Hostname:  cfg.Hostname,
		Dir:       stateDir,
		Ephemeral: cfg.Ephemeral,
		AuthKey:   authKey,
	}

	logger.Info("starting tailscale node", "hostname", cfg.Hostname, "state_dir", stateDir, "ephemeral", cfg.Ephemeral)
	status, err := srv.Up(ctx)
	if err != nil {
		_ = srv.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	var tsAddr string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	}
	logger.Info("tailscale node ready", "hostname", cfg.Hostname, "tailscale_ip", tsAddr)

	return &Tailnet{server: srv, logger: logger}, nil
}

// Dial is a DialFunc routed through the tailnet.
func (t *Tailnet) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	return t.server.Dial(ctx, network, address)
}

// Close shuts the node down.
func (t *Tailnet) Close() error {
	return t.server.Close()
}

func resolveTailnetStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "vpsbot", "tailscale"), nil
}
