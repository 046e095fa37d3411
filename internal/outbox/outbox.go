// Package outbox persists notifications in Badger until a relay delivers them.
//
// Entries live under "pending:<uuidv7>" so a prefix scan yields them in
// enqueue order. Entries that exhaust their attempts move to "dead:<uuidv7>".
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/circulate/circulation-server/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	pendingPrefix = "pending:"
	deadPrefix    = "dead:"
)

// ErrNotFound is returned when an entry is not in the expected keyspace.
var ErrNotFound = errors.New("outbox entry not found")

// Entry is one queued notification and its delivery state.
type Entry struct {
	ID           string              `json:"id"`
	Notification domain.Notification `json:"notification"`
	Attempts     int                 `json:"attempts"`
	LastError    string              `json:"last_error,omitempty"`
	DeliveredTo  []string            `json:"delivered_to,omitempty"`
	EnqueuedAt   time.Time           `json:"enqueued_at"`
}

// DeliveredVia reports whether sink already accepted this entry.
func (e *Entry) DeliveredVia(sink string) bool {
	return slices.Contains(e.DeliveredTo, sink)
}

// MarkDelivered records a successful delivery through sink.
func (e *Entry) MarkDelivered(sink string) {
	if !e.DeliveredVia(sink) {
		e.DeliveredTo = append(e.DeliveredTo, sink)
	}
}

// Outbox wraps a Badger database holding pending notifications.
type Outbox struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open opens the outbox at path. An empty path keeps everything in memory.
func Open(path string, logger *slog.Logger) (*Outbox, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
		opts.SyncWrites = true       // notifications must survive a crash
		opts.CompactL0OnClose = true // faster startup
	}
	opts.Logger = nil // Disable Badger's internal logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open outbox: %w", err)
	}

	if logger != nil {
		logger.Info("outbox opened", "path", path, "in_memory", path == "")
	}

	return &Outbox{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (o *Outbox) Close() error {
	return o.db.Close()
}

// Enqueue persists n and returns the stored entry.
func (o *Outbox) Enqueue(ctx context.Context, n domain.Notification) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate outbox key: %w", err)
	}

	entry := &Entry{
		ID:           key.String(),
		Notification: n,
		EnqueuedAt:   time.Now().UTC(),
	}

	if err := o.db.Update(func(txn *badger.Txn) error {
		return setEntry(txn, pendingPrefix, entry)
	}); err != nil {
		return nil, fmt.Errorf("enqueue notification: %w", err)
	}
	return entry, nil
}

// Pending returns up to limit pending entries, oldest first. limit <= 0 means all.
func (o *Outbox) Pending(ctx context.Context, limit int) ([]*Entry, error) {
	return o.scan(ctx, pendingPrefix, limit)
}

// DeadLetters returns every dead-lettered entry, oldest first.
func (o *Outbox) DeadLetters(ctx context.Context) ([]*Entry, error) {
	return o.scan(ctx, deadPrefix, 0)
}

// Ack removes a delivered entry.
func (o *Outbox) Ack(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return o.db.Update(func(txn *badger.Txn) error {
		key := []byte(pendingPrefix + id)
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return txn.Delete(key)
	})
}

// Retry records a failed attempt and keeps the entry in place, so it keeps
// its position in the queue.
func (o *Outbox) Retry(ctx context.Context, entry *Entry, cause error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entry.Attempts++
	if cause != nil {
		entry.LastError = cause.Error()
	}
	return o.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(pendingPrefix + entry.ID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return setEntry(txn, pendingPrefix, entry)
	})
}

// DeadLetter moves an entry out of the pending keyspace.
func (o *Outbox) DeadLetter(ctx context.Context, entry *Entry, cause error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cause != nil {
		entry.LastError = cause.Error()
	}
	return o.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(pendingPrefix + entry.ID)); err != nil {
			return err
		}
		return setEntry(txn, deadPrefix, entry)
	})
}

// Len returns the number of pending entries.
func (o *Outbox) Len(ctx context.Context) (int, error) {
	count := 0
	err := o.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(pendingPrefix)
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

func (o *Outbox) scan(ctx context.Context, prefix string, limit int) ([]*Entry, error) {
	var entries []*Entry
	err := o.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		p := []byte(prefix)
		opts.Prefix = p

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if limit > 0 && len(entries) >= limit {
				return nil
			}

			var entry Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				// A corrupt payload would otherwise wedge the queue.
				if o.logger != nil {
					o.logger.Error("skipping undecodable outbox entry",
						"key", string(it.Item().Key()),
						"error", err)
				}
				continue
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan outbox: %w", err)
	}
	return entries, nil
}

func setEntry(txn *badger.Txn, prefix string, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal outbox entry: %w", err)
	}
	return txn.Set([]byte(prefix+entry.ID), data)
}
