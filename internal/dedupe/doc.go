// Package dedupe drops chat events that have already been handled.
//
// Matrix may deliver the same event more than once (sync retries, reconnects,
// replays after a restart with a stale sync token). Provisioning is not
// idempotent, so the bridge records every event id it acts on and ignores
// repeats inside a time window.
package dedupe
