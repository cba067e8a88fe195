// Package registry persists certificate records and keeps a hash-chained
// ledger of issuance and revocation events.
package registry

import (
	"context"
	"errors"

	"github.com/bturcanu/certproof/pkg/types"
)

var (
	ErrDuplicateID    = errors.New("registry: certificate id already exists")
	ErrNotFound       = errors.New("registry: certificate not found")
	ErrAlreadyRevoked = errors.New("registry: certificate already revoked")
)

// Store is the persistence boundary used by issuance and verification.
// Put is atomic: a record is either fully stored with its ledger entry or not
// at all. GetByID returns (nil, nil) when no record exists.
type Store interface {
	Put(ctx context.Context, rec *types.CertificateRecord) error
	GetByID(ctx context.Context, certificateID string) (*types.CertificateRecord, error)
	SetStatus(ctx context.Context, certificateID string, status types.Status, reason string) (*types.CertificateRecord, error)
}
