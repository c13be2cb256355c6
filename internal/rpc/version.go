package rpc

// Version is the daemon protocol version. Client and server exchange it
// on every request; a major mismatch rejects the call so a stale daemon
// never serves a newer CLI.
var Version = "0.4.0"
