// ABOUTME: Entry point for vpsbot
// ABOUTME: Wires config, the Proxmox executor, the coordinator and the Matrix bridge

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/2389/vpsbot/internal/auth"
	"github.com/2389/vpsbot/internal/config"
	"github.com/2389/vpsbot/internal/coordinator"
	"github.com/2389/vpsbot/internal/matrix"
	"github.com/2389/vpsbot/internal/metrics"
	"github.com/2389/vpsbot/internal/notify"
	"github.com/2389/vpsbot/internal/provision"
	"github.com/2389/vpsbot/internal/remote"
	"github.com/2389/vpsbot/internal/store"
)

const banner = `
                 _           _
 __   ___ __  ___| |__   ___ | |_
 \ \ / / '_ \/ __| '_ \ / _ \| __|
  \ V /| |_) \__ \ |_) | (_) | |_
   \_/ | .__/|___/_.__/ \___/ \__|
       |_|
`

// getConfigPath returns the path to the config file.
// Priority: VPSBOT_CONFIG env var > XDG_CONFIG_HOME/vpsbot/config.toml > ~/.config/vpsbot/config.toml
func getConfigPath() string {
	if envPath := os.Getenv("VPSBOT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "vpsbot", "config.toml")
}

// getDataPath returns the directory for the crypto store.
// Priority: XDG_DATA_HOME/vpsbot > ~/.local/share/vpsbot
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "vpsbot")
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(os.Stdin, getConfigPath()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}
	dataDir := cfg.Matrix.DataDir
	if dataDir == "" {
		dataDir = getDataPath()
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Homeserver: %s\n", cfg.Matrix.Homeserver)
	green.Print("    ▶ ")
	fmt.Printf("Proxmox:    %s@%s:%d\n", cfg.Proxmox.User, cfg.Proxmox.Host, cfg.Proxmox.Port)
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailnet:    %s\n", cfg.Tailscale.Hostname)
	}
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:    http://%s%s\n", cfg.Metrics.Addr, cfg.Metrics.Path)
	}
	if cfg.Matrix.Encryption {
		green.Print("    ▶ ")
		fmt.Println("Encryption: enabled")
	}
	if cfg.Store.Enabled {
		green.Print("    ▶ ")
		fmt.Println("Ledger:     enabled")
	}
	fmt.Println()

	if len(cfg.Authorization.AuthorizedRoles) == 0 {
		logger.Warn("authorization.authorized_roles is empty; every create-vps request will be rejected")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	exec, closeExec, err := newExecutor(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeExec()

	ids := provision.NewAllocator(cfg.Guest.FirstID)
	opts := []coordinator.Option{coordinator.WithRecorder(m)}
	bridgeOpts := []matrix.BridgeOption{matrix.WithCommandRecorder(m)}
	if cfg.Store.Enabled {
		path := cfg.Store.Path
		if path == "" {
			path = filepath.Join(dataDir, config.DefaultStoreFile)
		}
		ledger, err := store.NewSQLiteStore(path, logger)
		if err != nil {
			return fmt.Errorf("opening request ledger: %w", err)
		}
		defer func() { _ = ledger.Close() }()
		if err := coordinator.SeedFromHistory(ctx, ledger, ids, logger); err != nil {
			return err
		}
		opts = append(opts, coordinator.WithLedger(ledger))
		bridgeOpts = append(bridgeOpts, matrix.WithHistory(ledger, cfg.Authorization.AuthorizedRoles))
	}
	if cfg.Guest.SeedFromHost {
		if err := coordinator.SeedGuestIDs(ctx, exec, ids, logger); err != nil {
			logger.Warn("could not seed guest ids from host, using configured first id", "first_id", ids.Peek(), "error", err)
		}
	}
	builder, err := provision.NewBuilder(cfg.Guest.Template(), ids)
	if err != nil {
		return fmt.Errorf("guest template: %w", err)
	}

	client, err := matrix.Connect(ctx, cfg.Matrix, logger)
	if err != nil {
		return fmt.Errorf("matrix login: %w", err)
	}

	if cfg.Matrix.Encryption {
		cryptoMgr, err := SetupCrypto(ctx, client, cfg.Matrix.RecoveryKey, dataDir, logger)
		if err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		defer func() { _ = cryptoMgr.Close() }()
	} else {
		logger.Info("encryption disabled")
	}

	messenger := matrix.NewMessenger(client, logger)
	reporter := notify.NewReporter(messenger, newAuditSink(cfg.Audit, logger), notify.Options{
		RecordFailures: cfg.Audit.RecordFailures,
		Hook: func(target notify.Target, err error) {
			m.DeliveryObserved(string(target), err)
		},
	}, logger)

	if cfg.Matrix.TypingIndicator {
		opts = append(opts, coordinator.WithTyping(messenger.Typing))
	}
	coord := coordinator.New(coordinator.Config{
		AuthorizedRoles: cfg.Authorization.AuthorizedRoles,
		CommandTimeout:  cfg.Proxmox.CommandTimeout,
	}, builder, exec, reporter, logger, opts...)

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, cfg.Metrics.Path, reg, logger); err != nil {
				logger.Error("metrics endpoint failed", "error", err)
			}
		}()
	}

	bridge := matrix.NewBridge(cfg.Matrix, client.UserID, client, messenger,
		matrix.NewRoleResolver(cfg.Authorization), coord, logger, bridgeOpts...)
	return bridge.Run(ctx, client)
}

// newExecutor builds the SSH executor, bringing up the tailnet first when it is
// enabled. The returned func releases the tailnet node.
func newExecutor(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*remote.Executor, func(), error) {
	policy := remote.HostKeyPolicy(cfg.Proxmox.HostKeyPolicy)
	hostKeys, err := remote.HostKeyCallbackFor(remote.HostKeyOptions{
		Policy:         policy,
		KnownHostsFile: cfg.Proxmox.KnownHostsFile,
		Fingerprint:    cfg.Proxmox.HostKeyFingerprint,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("host key policy: %w", err)
	}
	if policy == remote.HostKeyInsecure {
		logger.Warn("proxmox host key verification is disabled", "host", cfg.Proxmox.Host)
	}

	key, err := cfg.Proxmox.PrivateKey()
	if err != nil {
		return nil, nil, err
	}

	rc := remote.Config{
		Host:            cfg.Proxmox.Host,
		Port:            cfg.Proxmox.Port,
		User:            cfg.Proxmox.User,
		Password:        cfg.Proxmox.Password,
		PrivateKey:      key,
		HostKeyCallback: hostKeys,
		DialTimeout:     cfg.Proxmox.DialTimeout,
		MaxOutputBytes:  cfg.Proxmox.MaxOutputBytes,
	}

	closeFn := func() {}
	if cfg.Tailscale.Enabled {
		tn, err := remote.StartTailnet(ctx, remote.TailnetConfig{
			Hostname:  cfg.Tailscale.Hostname,
			AuthKey:   cfg.Tailscale.AuthKey,
			StateDir:  cfg.Tailscale.StateDir,
			Ephemeral: cfg.Tailscale.Ephemeral,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		rc.Dial = tn.Dial
		closeFn = func() { _ = tn.Close() }
	}

	exec, err := remote.NewExecutor(rc, logger)
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("creating executor: %w", err)
	}
	return exec, closeFn, nil
}

func newAuditSink(cfg config.AuditConfig, logger *slog.Logger) notify.AuditSink {
	if cfg.WebhookURL == "" {
		logger.Info("audit webhook disabled")
		return notify.DiscardAudit{}
	}
	var opts []notify.WebhookOption
	if cfg.SigningSecret != "" {
		opts = append(opts, notify.WithSigner(auth.NewWebhookSigner([]byte(cfg.SigningSecret), 0)))
	}
	return notify.NewWebhookSink(cfg.WebhookURL, cfg.Timeout, opts...)
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
