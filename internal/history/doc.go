// Package history keeps a bounded, in-memory conversation buffer per
// (agent, counterparty) pair for prompting the responder. Buffers cap at a
// configured turn count with FIFO eviction and are dropped entirely once
// idle beyond a maximum age.
package history
