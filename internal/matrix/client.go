// ABOUTME: Matrix login for the bot account
// ABOUTME: Password login stores fresh credentials; token login resolves the device via whoami

package matrix

import (
	"context"
	"fmt"
	"log/slog"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/2389/vpsbot/internal/config"
)

// Connect creates a client for cfg and authenticates it.
func Connect(ctx context.Context, cfg config.MatrixConfig, logger *slog.Logger) (*mautrix.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "matrix")

	if cfg.PasswordLogin() {
		client, err := mautrix.NewClient(cfg.Homeserver, "", "")
		if err != nil {
			return nil, fmt.Errorf("creating matrix client: %w", err)
		}
		resp, err := client.Login(ctx, &mautrix.ReqLogin{
			Type: mautrix.AuthTypePassword,
			Identifier: mautrix.UserIdentifier{
				Type: mautrix.IdentifierTypeUser,
				User: cfg.Username,
			},
			Password:                 cfg.Password,
			InitialDeviceDisplayName: cfg.DeviceName,
			StoreCredentials:         true,
		})
		if err != nil {
			return nil, fmt.Errorf("logging in as %s: %w", cfg.Username, err)
		}
		logger.Info("logged in", "user_id", resp.UserID.String(), "device_id", resp.DeviceID.String())
		return client, nil
	}

	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	whoami, err := client.Whoami(ctx)
	if err != nil {
		return nil, fmt.Errorf("validating access token: %w", err)
	}
	client.UserID = whoami.UserID
	client.DeviceID = whoami.DeviceID
	logger.Info("using access token", "user_id", whoami.UserID.String(), "device_id", whoami.DeviceID.String())
	return client, nil
}
