package history

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/casebase/voicechat/internal/chat"
	"github.com/casebase/voicechat/internal/document"
)

var (
	messagesBucket = []byte("messages")
	filesBucket    = []byte("files")
)

// Store persists conversation snapshots to a BoltDB file. Each save
// replaces the previous snapshot exactly.
type Store struct {
	path string
}

// NewStore creates a store backed by the given file path, creating parent
// directories as needed.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history path cannot be empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	return &Store{path: path}, nil
}

func (s *Store) open() (*bolt.DB, error) {
	db, err := bolt.Open(s.path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	return db, nil
}

// SaveMessages writes the full conversation log, replacing the previous
// snapshot. Keys are big-endian positions so iteration preserves order.
func (s *Store) SaveMessages(messages []chat.Message) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(messagesBucket) != nil {
			if err := tx.DeleteBucket(messagesBucket); err != nil {
				return err
			}
		}
		b, err := tx.CreateBucket(messagesBucket)
		if err != nil {
			return err
		}

		for i, msg := range messages {
			key := make([]byte, 8)
			binary.BigEndian.PutUint64(key, uint64(i))

			value, err := json.Marshal(msg)
			if err != nil {
				return fmt.Errorf("failed to encode message %s: %w", msg.ID, err)
			}
			if err := b.Put(key, value); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadMessages reads the saved conversation log in order. A missing file or
// bucket yields an empty log.
func (s *Store) LoadMessages() ([]chat.Message, error) {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return nil, nil
	}

	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	var messages []chat.Message
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(messagesBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var msg chat.Message
			if err := json.Unmarshal(v, &msg); err != nil {
				// Skip malformed entries instead of failing the whole load
				slog.Warn("Skipping malformed history entry", "error", err)
				return nil
			}
			messages = append(messages, msg)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// SaveFiles writes the full file record list, replacing the previous
// snapshot
func (s *Store) SaveFiles(records []document.FileRecord) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(filesBucket) != nil {
			if err := tx.DeleteBucket(filesBucket); err != nil {
				return err
			}
		}
		b, err := tx.CreateBucket(filesBucket)
		if err != nil {
			return err
		}

		for i, record := range records {
			key := make([]byte, 8)
			binary.BigEndian.PutUint64(key, uint64(i))

			value, err := json.Marshal(record)
			if err != nil {
				return fmt.Errorf("failed to encode file record %s: %w", record.ID, err)
			}
			if err := b.Put(key, value); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadFiles reads the saved file records in order
func (s *Store) LoadFiles() ([]document.FileRecord, error) {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return nil, nil
	}

	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	var records []document.FileRecord
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(filesBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var record document.FileRecord
			if err := json.Unmarshal(v, &record); err != nil {
				slog.Warn("Skipping malformed file record", "error", err)
				return nil
			}
			records = append(records, record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
