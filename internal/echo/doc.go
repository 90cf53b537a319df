// Package echo tracks recently sent message ids so a session can recognize
// its own outgoing replies reappearing on the inbound stream. Markers are
// consumable exactly once and expire on a short fixed window; eviction is
// strictly time-based and idempotent, driven by the registry janitor.
package echo
