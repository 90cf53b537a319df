// Package classify turns a raw inbound transport event into a routing
// decision: drop it (echo, takeover, command ack, blocked, ignored), forward
// it to the responder, or answer directly with a canned reply.
//
// The decision order is fixed and first-match-wins: echo detection, owner
// takeover, self-message filtering, owner block/unblock commands, human
// escalation phrases, block-ledger check, and finally forward. The transport
// gives no protocol-level "did I send this" signal, so echo detection rests
// entirely on the consumable marker set in package echo.
package classify
