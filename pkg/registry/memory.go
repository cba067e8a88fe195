package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bturcanu/certproof/pkg/types"
	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for development and tests. Reads take a
// shared lock so concurrent lookups never block each other.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]types.CertificateRecord
	digests  map[string]string
	ledger   []LedgerEntry
	ckptSeq  int64
	ckptHash string
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]types.CertificateRecord),
		digests: make(map[string]string),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Put(_ context.Context, rec *types.CertificateRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[rec.CertificateID]; ok {
		return ErrDuplicateID
	}
	if _, ok := m.digests[rec.Digest]; ok {
		return ErrDuplicateID
	}
	stored := cloneRecord(rec)
	m.records[rec.CertificateID] = stored
	m.digests[rec.Digest] = rec.CertificateID
	m.appendLocked(EntryIssued, &stored)
	return nil
}

func (m *MemoryStore) GetByID(_ context.Context, certificateID string) (*types.CertificateRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[certificateID]
	if !ok {
		return nil, nil
	}
	out := cloneRecord(&rec)
	return &out, nil
}

func (m *MemoryStore) SetStatus(_ context.Context, certificateID string, status types.Status, reason string) (*types.CertificateRecord, error) {
	if status != types.StatusRevoked {
		return nil, fmt.Errorf("registry.SetStatus: unsupported transition to %q", status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[certificateID]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Status == types.StatusRevoked {
		out := cloneRecord(&rec)
		return &out, ErrAlreadyRevoked
	}
	now := m.now()
	rec.Status = status
	rec.RevokedAt = &now
	rec.RevokeReason = reason
	m.records[certificateID] = rec
	m.appendLocked(EntryRevoked, &rec)

	out := cloneRecord(&rec)
	return &out, nil
}

// GetLedgerEntries returns up to limit entries with seq > afterSeq, oldest first.
func (m *MemoryStore) GetLedgerEntries(_ context.Context, afterSeq int64, limit int) ([]LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []LedgerEntry
	for _, e := range m.ledger {
		if e.Seq <= afterSeq {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) GetArchiveCheckpoint(context.Context) (int64, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ckptSeq, m.ckptHash, nil
}

func (m *MemoryStore) UpsertArchiveCheckpoint(_ context.Context, seq int64, hash string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ckptSeq, m.ckptHash = seq, hash
	return nil
}

func (m *MemoryStore) appendLocked(kind EntryKind, rec *types.CertificateRecord) {
	prev := ""
	if n := len(m.ledger); n > 0 {
		prev = m.ledger[n-1].Hash
	}
	e := newEntry(kind, rec, prev, uuid.NewString(), m.now())
	e.Seq = int64(len(m.ledger) + 1)
	m.ledger = append(m.ledger, e)
}

func cloneRecord(rec *types.CertificateRecord) types.CertificateRecord {
	out := *rec
	out.Canonical = append([]byte(nil), rec.Canonical...)
	if rec.RevokedAt != nil {
		t := *rec.RevokedAt
		out.RevokedAt = &t
	}
	return out
}
