// Package decoder turns an arbitrarily chunked byte stream into commands.
//
// Ownership boundary:
// - the pending-byte queue of one connection
// - header search, length estimation and checksum verification
// - resynchronization after an unknown id or a bad checksum
//
// A Decoder is single-owner and not safe for concurrent use. Its output
// depends only on the concatenation of the bytes fed, never on how they
// were split.
package decoder
