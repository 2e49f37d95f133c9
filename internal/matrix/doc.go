// Package matrix is the chat frontend: it logs the bot in, syncs rooms, turns
// messages into commands, and delivers replies and direct messages.
package matrix
