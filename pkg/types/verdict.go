package types

import "time"

// ──────────────────────────────────────────────────────────────────────────────
// VerificationRequest — DocumentEvidence | BareID
// ──────────────────────────────────────────────────────────────────────────────

// VerificationRequest is implemented only by DocumentEvidence and BareID.
type VerificationRequest interface {
	verificationMethod() Method
}

// DocumentEvidence is the metadata an external extractor pulled out of a
// presented document. ExtractionErr is set when extraction itself failed.
type DocumentEvidence struct {
	ClaimedDigest string         `json:"claimed_digest"`
	ClaimedID     string         `json:"claimed_id"`
	Fields        map[string]any `json:"fields"`
	ExtractionErr error          `json:"-"`
}

func (DocumentEvidence) verificationMethod() Method { return MethodDocumentReHash }

// BareID is a certificate ID typed or scanned by a verifier.
type BareID struct {
	ID string `json:"certificate_id"`
}

func (BareID) verificationMethod() Method { return MethodIDLookup }

// MethodOf returns the verification method a request is dispatched to.
func MethodOf(req VerificationRequest) Method {
	if req == nil {
		return ""
	}
	return req.verificationMethod()
}

// ──────────────────────────────────────────────────────────────────────────────
// Verdict
// ──────────────────────────────────────────────────────────────────────────────

type Method string

const (
	MethodDocumentReHash Method = "document_rehash"
	MethodIDLookup       Method = "id_lookup"
)

type SecurityLevel string

const (
	LevelVerified           SecurityLevel = "verified"
	LevelTamperDetected     SecurityLevel = "tamper_detected"
	LevelUnknown            SecurityLevel = "unknown"
	LevelRevoked            SecurityLevel = "revoked"
	LevelMalformed          SecurityLevel = "malformed"
	LevelVerificationFailed SecurityLevel = "verification_failed"
)

// Names of the individual comparisons made by document re-hash verification.
const (
	CheckClaimedDigest = "claimed_digest"
	CheckStoredDigest  = "stored_digest"
	CheckClaimedID     = "claimed_id"
	CheckStoredID      = "stored_id"
)

// Verdict is built fresh for every verification call and never persisted as
// authoritative state.
type Verdict struct {
	Valid          bool          `json:"valid"`
	SecurityLevel  SecurityLevel `json:"security_level"`
	TamperDetected bool          `json:"tamper_detected"`
	Method         Method        `json:"verification_method"`
	Details        Details       `json:"details"`
}

// Details never carries the subject name.
type Details struct {
	Code          string     `json:"code"`
	Message       string     `json:"message"`
	CertificateID string     `json:"certificate_id,omitempty"`
	IssuedAt      *time.Time `json:"issued_at,omitempty"`
	Status        Status     `json:"status,omitempty"`
	FailedChecks  []string   `json:"failed_checks,omitempty"`
	Stage         string     `json:"stage,omitempty"`
}

// Err maps the verdict onto the error taxonomy. Verified verdicts return nil.
func (v Verdict) Err() error {
	switch v.SecurityLevel {
	case LevelVerified:
		return nil
	case LevelTamperDetected:
		return ErrTamperDetected
	case LevelUnknown:
		return ErrUnknownCertificate
	case LevelRevoked:
		return ErrRevoked
	case LevelMalformed:
		return ErrMalformedID
	default:
		return ErrVerification
	}
}
