// Package actor hosts durable, single-threaded actor loops. Each loop restores
// its state from the state store, binds its inboxes in the mailbox registry and
// then alternates between draining queued messages, an optional proactive scan
// and a fixed suspension. The Runtime starts loops by role, enforces one live
// instance per logical identity and restarts recorded actors after a process
// restart.
package actor
