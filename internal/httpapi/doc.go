// Package httpapi exposes the admin HTTP surface: starting and stopping
// sessions, inspecting their status and pairing challenges, and listing the
// block ledger. Responses use a {success, message} envelope. The surface
// carries no authentication and is meant to sit behind a trusted boundary.
package httpapi
