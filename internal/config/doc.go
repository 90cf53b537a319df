// Package config handles configuration loading for relaydesk.
//
// Configuration is loaded from a YAML file with ${VAR} environment variable
// expansion. Duration-valued options are written as Go duration strings
// ("30s", "5m") and parsed at load time. Every session tuning knob has a
// documented default, so a minimal config only needs the server address,
// database path and redis address.
package config
