// Package vad implements silence detection over the normalized energy stream
// produced by the audio analyzer. A detector tracks how long the energy has
// stayed below a configurable threshold and emits a single stop signal once
// the quiet period has lasted for the configured hold duration. Any energy at
// or above the threshold fully resets the quiet timer, so a stop only fires
// after one uninterrupted run of silence.
package vad
