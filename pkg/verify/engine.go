// Package verify decides whether a presented certificate is authentic.
//
// Two kinds of request converge on one verdict model. DocumentEvidence is
// re-canonicalized, re-hashed and compared against the claimed and stored
// digest and ID. BareID only confirms that the ID exists and is active; with
// no document to re-hash it cannot detect content tampering.
package verify

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bturcanu/certproof/pkg/integrity"
	"github.com/bturcanu/certproof/pkg/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/bturcanu/certproof/pkg/verify"

// Store is the read-only record lookup. It returns (nil, nil) for unknown IDs.
type Store interface {
	GetByID(context.Context, string) (*types.CertificateRecord, error)
}

// Extractor pulls claimed metadata out of a presented document.
type Extractor interface {
	Extract(context.Context, []byte) (*types.ExtractedMetadata, error)
}

// Engine is safe for concurrent use; it holds no mutable state.
type Engine struct {
	store     Store
	extractor Extractor
	log       *slog.Logger
	outcomes  metric.Int64Counter
}

// New creates an engine. extractor may be nil if raw documents are never submitted.
func New(store Store, extractor Extractor, log *slog.Logger) *Engine {
	counter, err := otel.Meter(instrumentationName).Int64Counter("certproof.verification.outcomes",
		metric.WithDescription("Verification verdicts by method and security level"))
	if err != nil {
		otel.Handle(err)
		counter = noop.Int64Counter{}
	}
	return &Engine{store: store, extractor: extractor, log: log, outcomes: counter}
}

// Verify dispatches the request and returns a verdict. It never returns an
// error: every outcome, including upstream failures, is a verdict.
func (e *Engine) Verify(ctx context.Context, req types.VerificationRequest) types.Verdict {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "verify.Verify")
	defer span.End()

	var v types.Verdict
	switch r := req.(type) {
	case types.DocumentEvidence:
		v = e.verifyDocument(ctx, r)
	case *types.DocumentEvidence:
		if r == nil {
			v = e.failed(ctx, types.MethodDocumentReHash, types.StageEvidence, "", errors.New("nil evidence"))
			break
		}
		v = e.verifyDocument(ctx, *r)
	case types.BareID:
		v = e.verifyID(ctx, r.ID)
	case *types.BareID:
		if r == nil {
			v = e.failed(ctx, types.MethodIDLookup, types.StageEvidence, "", errors.New("nil id request"))
			break
		}
		v = e.verifyID(ctx, r.ID)
	default:
		v = e.failed(ctx, "", types.StageEvidence, "", fmt.Errorf("unsupported request %T", req))
	}

	e.observe(ctx, v)
	return v
}

// ExtractAndVerify runs the extractor over a raw document and verifies the
// result. Extraction failures become VerificationFailed verdicts, never tamper.
func (e *Engine) ExtractAndVerify(ctx context.Context, document []byte) types.Verdict {
	if e.extractor == nil {
		return e.Verify(ctx, types.DocumentEvidence{ExtractionErr: errors.New("no document extractor configured")})
	}
	meta, err := e.extractor.Extract(ctx, document)
	if err != nil {
		return e.Verify(ctx, types.DocumentEvidence{ExtractionErr: err})
	}
	if meta == nil {
		return e.Verify(ctx, types.DocumentEvidence{ExtractionErr: errors.New("extractor returned no metadata")})
	}
	return e.Verify(ctx, meta.Evidence())
}

// ──────────────────────────────────────────────────────────────────────────────
// Path B — anonymous ID lookup
// ──────────────────────────────────────────────────────────────────────────────

func (e *Engine) verifyID(ctx context.Context, id string) types.Verdict {
	const method = types.MethodIDLookup

	// Garbage never reaches the store.
	if !integrity.ValidID(id) {
		return types.Verdict{
			SecurityLevel: types.LevelMalformed,
			Method:        method,
			Details: types.Details{
				Code:    "malformed_id",
				Message: "certificate ID is not in the expected CERT-XXXX-XXXX-XXXX-TAG-XXXX format",
			},
		}
	}

	rec, err := e.store.GetByID(ctx, id)
	if err != nil {
		return e.failed(ctx, method, types.StageLookup, id, err)
	}
	if rec == nil {
		return unknown(method, id)
	}
	return e.statusVerdict(ctx, method, rec)
}

// ──────────────────────────────────────────────────────────────────────────────
// Path A — document re-hash
// ──────────────────────────────────────────────────────────────────────────────

func (e *Engine) verifyDocument(ctx context.Context, ev types.DocumentEvidence) types.Verdict {
	const method = types.MethodDocumentReHash

	if ev.ExtractionErr != nil {
		return e.failed(ctx, method, types.StageExtraction, "", ev.ExtractionErr)
	}
	claimedDigest := strings.ToLower(strings.TrimSpace(ev.ClaimedDigest))
	claimedID := strings.TrimSpace(ev.ClaimedID)
	if claimedDigest == "" {
		return e.failed(ctx, method, types.StageEvidence, "", errors.New("document carries no claimed digest"))
	}
	if claimedID == "" {
		return e.failed(ctx, method, types.StageEvidence, "", errors.New("document carries no claimed certificate id"))
	}

	claim, err := types.ClaimFromFields(ev.Fields)
	if err != nil {
		return e.failed(ctx, method, types.StageEvidence, "", err)
	}
	sealed, err := integrity.Seal(claim)
	if err != nil {
		return e.failed(ctx, method, types.StageEncoding, "", err)
	}
	recomputedDigest := sealed.Digest.Hex()

	// Look up by the claimed ID first. If that yields nothing, the claimed ID
	// itself may have been altered, so also try the ID the content derives to.
	var rec *types.CertificateRecord
	if integrity.ValidID(claimedID) {
		rec, err = e.store.GetByID(ctx, claimedID)
	}
	if err == nil && rec == nil && sealed.ID != claimedID {
		rec, err = e.store.GetByID(ctx, sealed.ID)
	}
	if err != nil {
		return e.failed(ctx, method, types.StageLookup, claimedID, err)
	}
	if rec == nil {
		return unknown(method, claimedID)
	}

	var failedChecks []string
	if !equal(claimedDigest, recomputedDigest) {
		failedChecks = append(failedChecks, types.CheckClaimedDigest)
	}
	if !equal(strings.ToLower(rec.Digest), recomputedDigest) {
		failedChecks = append(failedChecks, types.CheckStoredDigest)
	}
	if !equal(claimedID, sealed.ID) {
		failedChecks = append(failedChecks, types.CheckClaimedID)
	}
	if !equal(rec.CertificateID, sealed.ID) {
		failedChecks = append(failedChecks, types.CheckStoredID)
	}
	if len(failedChecks) > 0 {
		e.log.WarnContext(ctx, "certificate tamper detected",
			"certificate_id", rec.CertificateID,
			"failed_checks", failedChecks,
		)
		return types.Verdict{
			SecurityLevel:  types.LevelTamperDetected,
			TamperDetected: true,
			Method:         method,
			Details: types.Details{
				Code:          "tamper_detected",
				Message:       "the document does not match the certificate that was issued; its content or identifiers were altered",
				CertificateID: rec.CertificateID,
				FailedChecks:  failedChecks,
			},
		}
	}
	return e.statusVerdict(ctx, method, rec)
}

// ──────────────────────────────────────────────────────────────────────────────
// Verdict constructors
// ──────────────────────────────────────────────────────────────────────────────

func (e *Engine) statusVerdict(ctx context.Context, method types.Method, rec *types.CertificateRecord) types.Verdict {
	issuedAt := rec.IssuedAt()
	d := types.Details{
		CertificateID: rec.CertificateID,
		IssuedAt:      &issuedAt,
		Status:        rec.Status,
	}
	switch rec.Status {
	case types.StatusActive:
		d.Code = "verified"
		d.Message = "certificate is authentic and active"
		return types.Verdict{Valid: true, SecurityLevel: types.LevelVerified, Method: method, Details: d}
	case types.StatusRevoked:
		d.Code = "revoked"
		d.Message = "certificate was issued by this system but has since been revoked"
		return types.Verdict{SecurityLevel: types.LevelRevoked, Method: method, Details: d}
	default:
		return e.failed(ctx, method, types.StageLookup, rec.CertificateID, fmt.Errorf("record has unknown status %q", rec.Status))
	}
}

func unknown(method types.Method, id string) types.Verdict {
	return types.Verdict{
		SecurityLevel: types.LevelUnknown,
		Method:        method,
		Details: types.Details{
			Code:          "unknown_certificate",
			Message:       "no certificate with this ID was issued by this system; this alone does not indicate forgery",
			CertificateID: id,
		},
	}
}

// failed builds a VerificationFailed verdict. The cause is logged but kept out
// of the verdict so internal errors are not echoed to verifiers.
func (e *Engine) failed(ctx context.Context, method types.Method, stage, id string, cause error) types.Verdict {
	e.log.WarnContext(ctx, "verification could not be completed",
		"certificate_id", id,
		"method", string(method),
		"stage", stage,
		"error", cause,
	)
	return types.Verdict{
		SecurityLevel: types.LevelVerificationFailed,
		Method:        method,
		Details: types.Details{
			Code:          "verification_error",
			Message:       "verification could not be completed; the outcome is undetermined",
			CertificateID: id,
			Stage:         stage,
		},
	}
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (e *Engine) observe(ctx context.Context, v types.Verdict) {
	e.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", string(v.Method)),
		attribute.String("security_level", string(v.SecurityLevel)),
	))
	e.log.InfoContext(ctx, "certificate verified",
		"certificate_id", v.Details.CertificateID,
		"method", string(v.Method),
		"security_level", string(v.SecurityLevel),
		"tamper_detected", v.TamperDetected,
	)
}
