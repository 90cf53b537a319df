// Package session manages the lifecycle of chat-relay sessions: dialing the
// transport, driving the per-session status machine, persisting credential
// mutations, routing inbound messages through the classifier and responder,
// and restoring previously paired sessions on startup.
//
// The transport wire protocol is abstracted behind the Transport and Conn
// interfaces; the registry consumes typed events and never sees raw frames.
package session
