package types

import "time"

// ──────────────────────────────────────────────────────────────────────────────
// CertificateRecord — persisted at issuance, mutated only by revocation.
// ──────────────────────────────────────────────────────────────────────────────

type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// Valid reports whether s is a known record status.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusRevoked
}

type CertificateRecord struct {
	CertificateID string           `json:"certificate_id"`
	Digest        string           `json:"digest"` // lowercase hex SHA-512 of Canonical
	Claim         CertificateClaim `json:"claim"`
	Canonical     []byte           `json:"canonical"`
	Status        Status           `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	RevokedAt     *time.Time       `json:"revoked_at,omitempty"`
	RevokeReason  string           `json:"revoke_reason,omitempty"`
}

// IssuedAt returns the claim timestamp as a UTC time.
func (r *CertificateRecord) IssuedAt() time.Time {
	return time.UnixMilli(r.Claim.IssuedAtEpochMillis).UTC()
}

// ──────────────────────────────────────────────────────────────────────────────
// Issuance result
// ──────────────────────────────────────────────────────────────────────────────

// IssuedCertificate is what the issuance pipeline returns. The record is
// persisted even when rendering failed; RenderError carries the reason.
type IssuedCertificate struct {
	Record      *CertificateRecord `json:"record"`
	DocumentURL string             `json:"document_url,omitempty"`
	RenderError string             `json:"render_error,omitempty"`
}

// RevokeInput is the body of a revocation request.
type RevokeInput struct {
	Reason string `json:"reason"`
}
