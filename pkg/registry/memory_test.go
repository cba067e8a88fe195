package registry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bturcanu/certproof/pkg/types"
)

func record(id, digest string) *types.CertificateRecord {
	return &types.CertificateRecord{
		CertificateID: id,
		Digest:        digest,
		Claim: types.CertificateClaim{
			SubjectName:      "Jane Doe",
			CourseOrExamName: "Intro to Cryptography",
		},
		Canonical: []byte(`{"k":"v"}`),
		Status:    types.StatusActive,
		CreatedAt: time.Now().UTC(),
	}
}

func TestMemoryStore_PutGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Put(ctx, record("CERT-1", "d1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.GetByID(ctx, "CERT-1")
	if err != nil || got == nil {
		t.Fatalf("get: %v %v", got, err)
	}
	if got.Digest != "d1" || got.Status != types.StatusActive {
		t.Errorf("unexpected record %+v", got)
	}

	// Returned copies must not alias stored state.
	got.Canonical[0] = 'X'
	again, _ := s.GetByID(ctx, "CERT-1")
	if again.Canonical[0] != '{' {
		t.Error("stored canonical bytes were mutated through a returned record")
	}

	missing, err := s.GetByID(ctx, "CERT-2")
	if err != nil || missing != nil {
		t.Errorf("expected (nil, nil) for a missing record, got %v %v", missing, err)
	}
}

func TestMemoryStore_Duplicate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Put(ctx, record("CERT-1", "d1"))
	if err := s.Put(ctx, record("CERT-1", "d2")); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("duplicate id: expected ErrDuplicateID, got %v", err)
	}
	if err := s.Put(ctx, record("CERT-9", "d1")); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("duplicate digest: expected ErrDuplicateID, got %v", err)
	}
	entries, _ := s.GetLedgerEntries(ctx, 0, 100)
	if len(entries) != 1 {
		t.Errorf("failed puts must not touch the ledger, got %d entries", len(entries))
	}
}

func TestMemoryStore_Revoke(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Put(ctx, record("CERT-1", "d1"))

	rec, err := s.SetStatus(ctx, "CERT-1", types.StatusRevoked, "issued in error")
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if rec.Status != types.StatusRevoked || rec.RevokedAt == nil || rec.RevokeReason != "issued in error" {
		t.Errorf("unexpected revoked record %+v", rec)
	}
	if _, err := s.SetStatus(ctx, "CERT-1", types.StatusRevoked, "again"); !errors.Is(err, ErrAlreadyRevoked) {
		t.Errorf("expected ErrAlreadyRevoked, got %v", err)
	}
	if _, err := s.SetStatus(ctx, "CERT-404", types.StatusRevoked, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.SetStatus(ctx, "CERT-1", types.StatusActive, ""); err == nil {
		t.Error("reactivation is not a supported transition")
	}
}

func TestMemoryStore_LedgerChain(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Put(ctx, record("CERT-1", "d1"))
	_ = s.Put(ctx, record("CERT-2", "d2"))
	_, _ = s.SetStatus(ctx, "CERT-1", types.StatusRevoked, "")

	entries, err := s.GetLedgerEntries(ctx, 0, 100)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 ledger entries, got %d", len(entries))
	}
	if entries[2].Kind != EntryRevoked || entries[2].Status != types.StatusRevoked {
		t.Errorf("unexpected last entry %+v", entries[2])
	}
	if err := VerifyChain(entries); err != nil {
		t.Fatalf("chain: %v", err)
	}

	tail, _ := s.GetLedgerEntries(ctx, 1, 1)
	if len(tail) != 1 || tail[0].Seq != 2 {
		t.Errorf("expected only seq 2, got %+v", tail)
	}
}

func TestMemoryStore_ConcurrentReads(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Put(ctx, record("CERT-1", "d1"))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rec, err := s.GetByID(ctx, "CERT-1"); err != nil || rec == nil {
				t.Errorf("concurrent get failed: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestLogger_DoesNotLogSubject(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(NewMemoryStore(), slog.New(slog.NewJSONHandler(&buf, nil)))
	if err := l.Put(context.Background(), record("CERT-1", "d1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "CERT-1") {
		t.Errorf("expected certificate id in log, got %s", out)
	}
	if strings.Contains(out, "Jane Doe") {
		t.Errorf("subject name leaked into log: %s", out)
	}
}
