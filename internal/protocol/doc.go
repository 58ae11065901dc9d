// Package protocol owns the cileserver wire contract.
//
// Ownership boundary:
// - error taxonomy shared by codec, session and server
// - frame/header primitives (package frame)
// - directory-entry records (package listing)
// - exchange state machine (package session)
package protocol
