// Package frame owns the CMD wire contract.
//
// Ownership boundary:
// - frame layout constants and per-command payload lengths
// - CRC-16/ARC over command id and payload
// - encoding commands for senders and tests
//
// A frame is "CMD", a big-endian u16 command id, the payload, then the
// big-endian u16 checksum. There is no length field; the payload length is
// implied by the command id (and for text commands by the first payload
// byte).
package frame
