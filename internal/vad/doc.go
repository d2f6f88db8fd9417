// Package vad implements voice activity detection and utterance segmentation.
// An energy-based Processor scores chunks, and a Segmenter accumulates chunks
// into utterances bounded by trailing silence or a maximum length.
package vad
