// Package translation provides the HTTP client for the external machine
// translation service, the ISO 639-1 to Flores-200 language mapping it
// expects, and statistical language detection for untagged text.
package translation
