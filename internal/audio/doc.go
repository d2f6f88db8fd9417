// Package audio handles the raw audio formats that cross the hub: base64
// little-endian PCM16 frames from clients, WAV containers for the speech and
// synthesis backends, and simple level measurements used for silence checks.
package audio
