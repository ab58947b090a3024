// Package server owns the TCP side of the command stream.
//
// Ownership boundary:
// - listener bind/accept/stop
// - one goroutine per accepted connection (session read loop)
// - per-connection handler minted by a factory, never shared
//
// A session goroutine is the only owner of its conn and handler; it exits
// on the first read error and nothing else keeps it alive. Stop closes the
// listening socket only, so sessions already running drain on their own.
package server
