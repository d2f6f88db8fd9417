// Package session runs the per-connection protocol state machine. A session
// joins its client to a room, segments the client's audio into utterances
// and broadcasts their translations to the other participants.
package session
