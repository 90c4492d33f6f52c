// Package audio handles loudness analysis, PCM sample conversion, and
// recording accumulation. It implements the normalized energy computation that
// drives silence detection, float-to-PCM-16 conversion for streaming, and WAV
// encoding of recorded audio for turn-based transcription.
package audio
