// Package session runs voice recording sessions. A session pulls frames
// from a capture source, forwards them to the streaming transcription
// client, and feeds the analyzer's energy readings to the silence detector;
// when the detector fires, or the source ends, the session finalizes the
// transcript and reports it. The manager enforces one active session per
// input: starting a new session tears the previous one down first.
package session
