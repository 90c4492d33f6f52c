package transcription

import "fmt"

// ConfigurationError reports a client that cannot operate as configured,
// such as a missing API credential or endpoint.
type ConfigurationError struct {
	Detail string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("transcription not configured: %s", e.Detail)
}

// InputError reports unusable input, such as a capture source with no
// audio tracks or an empty recording.
type InputError struct {
	Detail string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid transcription input: %s", e.Detail)
}

// UploadError reports a non-success or unparsable response from the audio
// upload endpoint.
type UploadError struct {
	Status int
	Body   string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("audio upload failed with status %d: %s", e.Status, e.Body)
}

// JobCreationError reports a failure to create a transcription job for an
// already-uploaded recording.
type JobCreationError struct {
	Status int
	Body   string
}

func (e *JobCreationError) Error() string {
	return fmt.Sprintf("transcription job creation failed with status %d: %s", e.Status, e.Body)
}

// PollError reports a failed poll of an existing job. The job may still
// complete; the poll loop treats this as fatal only when it persists.
type PollError struct {
	JobID  string
	Status int
	Body   string
}

func (e *PollError) Error() string {
	return fmt.Sprintf("polling job %s failed with status %d: %s", e.JobID, e.Status, e.Body)
}

// TranscriptionError reports a job the provider marked as failed.
type TranscriptionError struct {
	JobID  string
	Detail string
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription job %s failed: %s", e.JobID, e.Detail)
}

// PollTimeoutError reports a job that never reached a terminal state within
// the poll budget.
type PollTimeoutError struct {
	JobID    string
	Attempts int
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("transcription job %s did not complete after %d polls", e.JobID, e.Attempts)
}
