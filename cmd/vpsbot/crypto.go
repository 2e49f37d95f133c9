// ABOUTME: End-to-end encryption setup for the bot account
// ABOUTME: Keeps the mautrix crypto store in SQLite and resets it when the device changes

package main

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/cryptohelper"
)

// CryptoManager owns the crypto helper attached to the client.
type CryptoManager struct {
	helper *cryptohelper.CryptoHelper
	logger *slog.Logger
}

// SetupCrypto enables E2EE on client. The crypto store lives in dataDir, one
// database per bot account. A recovery key, when given, verifies this device
// for cross-signing; failing that is logged and encryption stays on.
func SetupCrypto(ctx context.Context, client *mautrix.Client, recoveryKey, dataDir string, logger *slog.Logger) (*CryptoManager, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	userID := client.UserID.String()
	dbPath := filepath.Join(dataDir, fmt.Sprintf("matrix-crypto-%s.db", slugify(userID)))
	logger.Info("setting up encryption", "db", dbPath)

	helper, err := initCryptoHelper(ctx, client, deriveStoreKey(userID), dbPath, logger)
	if err != nil {
		return nil, err
	}
	client.Crypto = helper

	cm := &CryptoManager{helper: helper, logger: logger}
	if recoveryKey == "" {
		logger.Info("encryption initialized (no recovery key, cross-signing disabled)")
		return cm, nil
	}
	if err := cm.verifyWithRecoveryKey(ctx, recoveryKey); err != nil {
		logger.Warn("failed to verify with recovery key", "error", err)
		logger.Info("encryption enabled without cross-signing verification")
	} else {
		logger.Info("encryption initialized with cross-signing verification")
	}
	return cm, nil
}

func (cm *CryptoManager) verifyWithRecoveryKey(ctx context.Context, recoveryKey string) error {
	machine := cm.helper.Machine()
	if machine == nil {
		return errors.New("crypto machine not initialized")
	}
	if err := machine.VerifyWithRecoveryKey(ctx, recoveryKey); err != nil {
		return fmt.Errorf("recovery key verification failed: %w", err)
	}
	cm.logger.Info("device verified with recovery key")
	return nil
}

// Close releases the crypto store.
func (cm *CryptoManager) Close() error {
	if cm.helper != nil {
		return cm.helper.Close()
	}
	return nil
}

// slugify turns a Matrix user id into a file-name-safe string:
// @vpsbot:example.org becomes vpsbot_example.org.
func slugify(userID string) string {
	s := userID
	if len(s) > 0 && s[0] == '@' {
		s = s[1:]
	}
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-', c == '_':
			out = append(out, c)
		case c == ':':
			out = append(out, '_')
		}
	}
	return string(out)
}

// deriveStoreKey returns the per-account pickle key for the crypto store.
func deriveStoreKey(userID string) []byte {
	h := sha256.Sum256([]byte("vpsbot-crypto:" + userID))
	return h[:]
}

// initCryptoHelper creates the helper, first discarding a store that belongs to
// a previous device (a fresh password login always gets a new device id).
func initCryptoHelper(ctx context.Context, client *mautrix.Client, storeKey []byte, dbPath string, logger *slog.Logger) (*cryptohelper.CryptoHelper, error) {
	if mismatch, err := storedDeviceMismatch(dbPath, client.DeviceID.String()); err != nil {
		logger.Debug("could not check stored device id", "error", err)
	} else if mismatch {
		logger.Warn("device id changed, resetting crypto database")
		if err := removeCryptoStore(dbPath); err != nil {
			return nil, err
		}
	}

	helper, err := cryptohelper.NewCryptoHelper(client, storeKey, dbPath)
	if err != nil {
		return nil, fmt.Errorf("creating crypto helper: %w", err)
	}
	if err := helper.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing crypto helper: %w", err)
	}
	return helper, nil
}

// storedDeviceMismatch reports whether dbPath holds an account for a device
// other than deviceID. A missing database or empty account table is no mismatch.
func storedDeviceMismatch(dbPath, deviceID string) (bool, error) {
	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return false, err
	}
	defer db.Close()

	var stored string
	err = db.QueryRow("SELECT device_id FROM crypto_account LIMIT 1").Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored != deviceID, nil
}

func removeCryptoStore(dbPath string) error {
	if err := os.Remove(dbPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing old crypto database: %w", err)
	}
	_ = os.Remove(dbPath + "-wal")
	_ = os.Remove(dbPath + "-shm")
	return nil
}
