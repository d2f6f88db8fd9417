// Package transcription provides the HTTP client for the external
// speech-to-text service. Utterances are uploaded as WAV in a multipart form,
// transient failures are retried with exponential backoff, and the number of
// concurrent requests is bounded.
package transcription
