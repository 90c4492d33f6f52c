// Package transcription provides two speech-to-text clients. StreamClient
// holds a websocket session with a live speech endpoint, forwarding PCM
// frames and surfacing interim and final transcript events as they arrive.
// TurnClient performs one-shot transcription of a finished recording: it
// uploads the audio, creates a transcription job, and polls until the job
// completes, errors, or the retry budget runs out. All failures are typed so
// callers can distinguish configuration mistakes from transport trouble from
// provider-side job failures.
package transcription
