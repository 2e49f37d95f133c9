// Package config loads vpsbot's configuration.
//
// # Configuration File
//
// The file is TOML unless its name ends in .yaml or .yml. Default locations (in
// order):
//
//  1. Path from the VPSBOT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/vpsbot/config.toml
//  3. ~/.config/vpsbot/config.toml
//
// # Environment Variable Expansion
//
// Values can reference environment variables, which keeps secrets out of the file:
//
//	[proxmox]
//	password = "${PROXMOX_PASSWORD}"
//
// # Duration Parsing
//
// Durations use time.ParseDuration syntax:
//
//	[proxmox]
//	dial_timeout = "10s"
//	command_timeout = "5m"
//
// # Example
//
//	[matrix]
//	homeserver = "https://matrix.example.org"
//	username = "vpsbot"
//	password = "${MATRIX_PASSWORD}"
//	allowed_rooms = ["!ops:example.org"]
//	typing_indicator = true
//
//	[authorization]
//	authorized_roles = ["provisioners", "admin"]
//	power_level_roles = true
//
//	[authorization.members]
//	provisioners = ["@alice:example.org"]
//
//	[proxmox]
//	host = "pve.example.org"
//	password = "${PROXMOX_PASSWORD}"
//	host_key_policy = "fingerprint"
//	host_key_fingerprint = "SHA256:..."
//
//	[audit]
//	webhook_url = "https://hooks.example.org/audit"
//	signing_secret = "${AUDIT_SECRET}"
//
// An empty authorization.authorized_roles list is valid and denies every request.
package config
