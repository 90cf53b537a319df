// Package blocklist implements time-boxed muting of automated replies per
// (agent, counterparty) pair. Blocks expire by timestamp comparison at read
// time; physical deletion happens opportunistically on IsBlocked and via the
// registry janitor, never as a correctness requirement.
package blocklist
