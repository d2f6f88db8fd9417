// Package tts routes server-side speech synthesis for translated text.
//
// A request is tried against a speaker's trained voice first, then against
// general backends that support the target language, then against a
// degraded fallback. A backend that errors or returns empty or silent audio
// is skipped. The whole walk is bounded by a time budget so a slow backend
// never holds back text delivery.
//
// The Accelerator backend talks to a remote GPU synthesis server over a
// WebSocket, reconnecting with exponential backoff and matching results to
// requests by id.
package tts
