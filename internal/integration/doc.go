// Package integration runs the assembled server end to end: REST, socket
// handshake, membership, delivery and history against a real SQLite store.
package integration
