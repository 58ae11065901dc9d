// Package session drives one exchange at a time over a connected stream.
//
// Ownership boundary:
// - the per-session transfer buffer and its capacity ceiling
// - the exchange state machine shared by client and server roles
// - per-phase read/write deadlines
// - dial retry/backoff for callers that want it (never applied to an exchange)
//
// Client role: List, Get, Put, Delete, Mkdir.
// Server role: ReadRequest, WriteResponse.
package session
