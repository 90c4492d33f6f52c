package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an uploaded file record
type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
)

// Default validation limits.
const (
	DefaultMaxFileSize = 10 << 20 // 10 MiB
)

var defaultAllowedTypes = []string{
	"application/pdf",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

var (
	// ErrFileNotFound is returned for operations on unknown record ids.
	ErrFileNotFound = errors.New("document: file not found")

	// ErrNotRetryable is returned when retrying a record that is not in
	// the error state.
	ErrNotRetryable = errors.New("document: only failed uploads can be retried")
)

// ValidationError reports a file rejected before upload
type ValidationError struct {
	Name   string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("file %q rejected: %s", e.Name, e.Detail)
}

// FileRecord tracks one attached file through its upload lifecycle
type FileRecord struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	Status      Status    `json:"status"`
	Reference   string    `json:"reference,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Uploader sends file content to the document service and returns the
// service's reference for it
type Uploader interface {
	Upload(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// Registry owns the set of attached files and their upload lifecycle
type Registry struct {
	uploader     Uploader
	maxFileSize  int64
	allowedTypes map[string]bool

	records []*FileRecord
	content map[string][]byte // retained until success, for retry

	mu sync.Mutex
}

// RegistryStats represents registry statistics for monitoring
type RegistryStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Uploading int `json:"uploading"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// NewRegistry creates a file registry. A zero maxFileSize or empty type
// list falls back to the defaults.
func NewRegistry(uploader Uploader, maxFileSize int64, allowedTypes []string) (*Registry, error) {
	if uploader == nil {
		return nil, fmt.Errorf("uploader cannot be nil")
	}

	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}

	if len(allowedTypes) == 0 {
		allowedTypes = defaultAllowedTypes
	}

	allowed := make(map[string]bool, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed[strings.ToLower(t)] = true
	}

	return &Registry{
		uploader:     uploader,
		maxFileSize:  maxFileSize,
		allowedTypes: allowed,
		content:      make(map[string][]byte),
	}, nil
}

// validate rejects unsupported types and oversized files
func (r *Registry) validate(name, contentType string, size int64) error {
	if !r.allowedTypes[strings.ToLower(contentType)] && !r.allowedExtension(name) {
		return &ValidationError{Name: name, Detail: fmt.Sprintf("unsupported type %q", contentType)}
	}

	if size > r.maxFileSize {
		return &ValidationError{
			Name:   name,
			Detail: fmt.Sprintf("size %d exceeds limit of %d bytes", size, r.maxFileSize),
		}
	}

	if size == 0 {
		return &ValidationError{Name: name, Detail: "file is empty"}
	}

	return nil
}

func (r *Registry) allowedExtension(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf", ".docx":
		return true
	default:
		return false
	}
}

// Add validates a file and registers it in the pending state. The upload
// itself happens in Upload or Retry.
func (r *Registry) Add(name, contentType string, data []byte) (*FileRecord, error) {
	if err := r.validate(name, contentType, int64(len(data))); err != nil {
		return nil, err
	}

	now := time.Now()
	record := &FileRecord{
		ID:          uuid.NewString(),
		Name:        name,
		Size:        int64(len(data)),
		ContentType: contentType,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	r.mu.Lock()
	r.records = append(r.records, record)
	r.content[record.ID] = data
	r.mu.Unlock()

	slog.Debug("File registered", "id", record.ID, "name", name, "size", record.Size)

	return r.snapshot(record.ID)
}

// Upload performs the upload for a pending record, moving it to success or
// error. The record stays in the registry either way.
func (r *Registry) Upload(ctx context.Context, id string) (*FileRecord, error) {
	r.mu.Lock()
	record := r.find(id)
	if record == nil {
		r.mu.Unlock()
		return nil, ErrFileNotFound
	}

	if record.Status != StatusPending {
		status := record.Status
		r.mu.Unlock()
		return nil, fmt.Errorf("document: cannot upload file in state %s", status)
	}

	record.Status = StatusUploading
	record.UpdatedAt = time.Now()
	name := record.Name
	contentType := record.ContentType
	data := r.content[id]
	r.mu.Unlock()

	reference, err := r.uploader.Upload(ctx, name, contentType, data)

	r.mu.Lock()
	defer r.mu.Unlock()

	record = r.find(id)
	if record == nil {
		// Removed while uploading.
		return nil, ErrFileNotFound
	}

	record.UpdatedAt = time.Now()
	if err != nil {
		record.Status = StatusError
		record.Error = err.Error()
		slog.Error("File upload failed", "id", id, "name", name, "error", err)
	} else {
		record.Status = StatusSuccess
		record.Reference = reference
		record.Error = ""
		delete(r.content, id)
		slog.Info("File uploaded", "id", id, "name", name, "reference", reference)
	}

	copied := *record
	return &copied, nil
}

// Retry re-runs the upload for a record in the error state
func (r *Registry) Retry(ctx context.Context, id string) (*FileRecord, error) {
	r.mu.Lock()
	record := r.find(id)
	if record == nil {
		r.mu.Unlock()
		return nil, ErrFileNotFound
	}

	if record.Status != StatusError {
		r.mu.Unlock()
		return nil, ErrNotRetryable
	}

	if _, ok := r.content[id]; !ok {
		// Restored from a snapshot; the bytes are gone.
		r.mu.Unlock()
		return nil, fmt.Errorf("document: content for %s is no longer held: %w", id, ErrNotRetryable)
	}

	record.Status = StatusPending
	record.Error = ""
	record.UpdatedAt = time.Now()
	r.mu.Unlock()

	return r.Upload(ctx, id)
}

// Remove deletes a record and its retained content
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, record := range r.records {
		if record.ID == id {
			r.records = append(r.records[:i], r.records[i+1:]...)
			delete(r.content, id)
			return nil
		}
	}
	return ErrFileNotFound
}

// Get returns a copy of one record
func (r *Registry) Get(id string) (*FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record := r.find(id)
	if record == nil {
		return nil, ErrFileNotFound
	}

	copied := *record
	return &copied, nil
}

// List returns copies of all records in registration order
func (r *Registry) List() []FileRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]FileRecord, len(r.records))
	for i, record := range r.records {
		out[i] = *record
	}
	return out
}

// Restore replaces the registry contents, used when loading persisted
// records at startup. Content is not retained, so restored error records
// cannot be retried until re-added.
func (r *Registry) Restore(records []FileRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = make([]*FileRecord, len(records))
	for i := range records {
		copied := records[i]
		r.records[i] = &copied
	}
	r.content = make(map[string][]byte)
}

// GetStats returns current registry statistics
func (r *Registry) GetStats() RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := RegistryStats{Total: len(r.records)}
	for _, record := range r.records {
		switch record.Status {
		case StatusPending:
			stats.Pending++
		case StatusUploading:
			stats.Uploading++
		case StatusSuccess:
			stats.Succeeded++
		case StatusError:
			stats.Failed++
		}
	}
	return stats
}

// find returns the live record for an id. Caller holds the mutex.
func (r *Registry) find(id string) *FileRecord {
	for _, record := range r.records {
		if record.ID == id {
			return record
		}
	}
	return nil
}

// snapshot returns a copy of the record with the given id
func (r *Registry) snapshot(id string) (*FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record := r.find(id)
	if record == nil {
		return nil, ErrFileNotFound
	}
	copied := *record
	return &copied, nil
}
