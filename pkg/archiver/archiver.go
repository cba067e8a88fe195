// Package archiver ships verified slices of the certificate ledger to object storage.
package archiver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bturcanu/certproof/pkg/registry"
)

// DefaultBatchSize bounds the number of ledger entries in one bundle.
const DefaultBatchSize = 1000

type LedgerStore interface {
	GetArchiveCheckpoint(context.Context) (int64, string, error)
	GetLedgerEntries(ctx context.Context, afterSeq int64, limit int) ([]registry.LedgerEntry, error)
	UpsertArchiveCheckpoint(ctx context.Context, seq int64, hash string, at time.Time) error
}

type Uploader interface {
	Upload(ctx context.Context, key string, body []byte) error
}

type Service struct {
	store     LedgerStore
	uploader  Uploader
	batchSize int
	now       func() time.Time
}

func New(store LedgerStore, uploader Uploader) *Service {
	return &Service{store: store, uploader: uploader, batchSize: DefaultBatchSize, now: time.Now}
}

// SetBatchSize overrides DefaultBatchSize. Non-positive values are ignored.
func (s *Service) SetBatchSize(n int) {
	if n > 0 {
		s.batchSize = n
	}
}

type Bundle struct {
	CreatedAt  time.Time              `json:"created_at"`
	EntryCount int                    `json:"entry_count"`
	FirstSeq   int64                  `json:"first_seq"`
	LastSeq    int64                  `json:"last_seq"`
	AnchorHash string                 `json:"anchor_hash"`
	Checkpoint string                 `json:"checkpoint_hash"`
	Entries    []registry.LedgerEntry `json:"entries"`
}

// ArchiveBatch archives the next batch after the checkpoint. It returns the
// object key, or "" when there was nothing new to archive. The checkpoint only
// advances after a successful upload of a chain that links to it.
func (s *Service) ArchiveBatch(ctx context.Context) (string, error) {
	lastSeq, lastHash, err := s.store.GetArchiveCheckpoint(ctx)
	if err != nil {
		return "", fmt.Errorf("archiver checkpoint: %w", err)
	}
	entries, err := s.store.GetLedgerEntries(ctx, lastSeq, s.batchSize)
	if err != nil {
		return "", fmt.Errorf("archiver ledger entries: %w", err)
	}
	if len(entries) == 0 {
		return "", nil
	}
	if err := registry.VerifyChainFrom(lastHash, entries); err != nil {
		return "", fmt.Errorf("verify chain: %w", err)
	}

	first, last := entries[0], entries[len(entries)-1]
	now := s.now().UTC()
	bundle := Bundle{
		CreatedAt:  now,
		EntryCount: len(entries),
		FirstSeq:   first.Seq,
		LastSeq:    last.Seq,
		AnchorHash: lastHash,
		Checkpoint: last.Hash,
		Entries:    entries,
	}
	body, err := json.Marshal(bundle)
	if err != nil {
		return "", fmt.Errorf("marshal bundle: %w", err)
	}

	key := fmt.Sprintf("ledger/%04d/%02d/%02d/%s.json", now.Year(), now.Month(), now.Day(), last.Hash)
	if err := s.uploader.Upload(ctx, key, body); err != nil {
		return "", err
	}
	if err := s.store.UpsertArchiveCheckpoint(ctx, last.Seq, last.Hash, last.RecordedAt); err != nil {
		return "", err
	}
	return key, nil
}

// ArchivePending archives batches until the ledger is drained or ctx ends.
func (s *Service) ArchivePending(ctx context.Context) ([]string, error) {
	var keys []string
	for {
		if err := ctx.Err(); err != nil {
			return keys, err
		}
		key, err := s.ArchiveBatch(ctx)
		if err != nil {
			return keys, err
		}
		if key == "" {
			return keys, nil
		}
		keys = append(keys, key)
	}
}
