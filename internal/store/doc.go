// Package store keeps a local ledger of provisioning requests in SQLite.
//
// The ledger is optional. When enabled it records the terminal state of every
// request that reached the coordinator and lets the guest id allocator start
// past any id handed out before a restart.
package store
