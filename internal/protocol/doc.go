// Package protocol defines the JSON messages exchanged with clients over the
// WebSocket connection. Every message carries a "type" discriminator; inbound
// messages are decoded into concrete structs and validated before dispatch.
package protocol
