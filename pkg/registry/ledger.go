package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/bturcanu/certproof/pkg/types"
)

type EntryKind string

const (
	EntryIssued  EntryKind = "issued"
	EntryRevoked EntryKind = "revoked"
)

// LedgerEntry is one link in the registry's append-only chain.
type LedgerEntry struct {
	Seq           int64        `json:"seq"`
	EntryID       string       `json:"entry_id"`
	Kind          EntryKind    `json:"kind"`
	CertificateID string       `json:"certificate_id"`
	Digest        string       `json:"digest"`
	Status        types.Status `json:"status"`
	PrevHash      string       `json:"prev_hash"`
	Hash          string       `json:"hash"`
	RecordedAt    time.Time    `json:"recorded_at"`
}

// EntryHash computes the next hash in the ledger chain.
//
//	hash = SHA-256( prevHash || 0x1f || kind || 0x1f || certificateID || 0x1f || digest || 0x1f || status )
func EntryHash(prevHash string, e LedgerEntry) string {
	h := sha256.New()
	for i, part := range []string{prevHash, string(e.Kind), e.CertificateID, e.Digest, string(e.Status)} {
		if i > 0 {
			h.Write([]byte{0x1f})
		}
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyChain walks the ledger from its genesis.
func VerifyChain(entries []LedgerEntry) error {
	return VerifyChainFrom("", entries)
}

// VerifyChainFrom walks entries that continue a chain ending at prev.
func VerifyChainFrom(prev string, entries []LedgerEntry) error {
	for i, e := range entries {
		if e.PrevHash != prev {
			return fmt.Errorf("chain broken at index %d (entry %s): prev_hash %s does not follow %s",
				i, e.EntryID, e.PrevHash, prev)
		}
		expected := EntryHash(prev, e)
		if e.Hash != expected {
			return fmt.Errorf("chain broken at index %d (entry %s): expected %s, got %s",
				i, e.EntryID, expected, e.Hash)
		}
		prev = e.Hash
	}
	return nil
}

func newEntry(kind EntryKind, rec *types.CertificateRecord, prevHash string, entryID string, at time.Time) LedgerEntry {
	e := LedgerEntry{
		EntryID:       entryID,
		Kind:          kind,
		CertificateID: rec.CertificateID,
		Digest:        rec.Digest,
		Status:        rec.Status,
		PrevHash:      prevHash,
		RecordedAt:    at,
	}
	e.Hash = EntryHash(prevHash, e)
	return e
}
