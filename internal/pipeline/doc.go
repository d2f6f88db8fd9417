// Package pipeline turns a finished utterance into source text plus a
// translation for every target language in the room.
//
// Calls run in a bounded worker pool on a context detached from the caller,
// so a speaker disconnecting does not abort work already in flight. A
// translator failure for one language degrades that language to a
// pass-through of the source text; a transcription failure fails the call.
package pipeline
