// Package server exposes the service over HTTP. The REST surface covers the
// conversation log, one-shot transcription of finished recordings, and the
// document registry; a websocket endpoint carries live recording sessions,
// taking PCM frames in and sending level and transcript events out. All
// routes are wrapped with Prometheus request metrics and the metrics
// themselves are served on /metrics.
package server
