// Package capture provides audio frame sources for transcription sessions.
// A Source hands out fixed-size float32 PCM frames and reports how many
// audio tracks it carries; a source with zero tracks is rejected before any
// streaming begins. Two implementations are provided: a PortAudio microphone
// source for local capture and a push source fed by a remote peer over the
// server's websocket endpoint.
package capture
