// Package issuance turns validated certificate requests into sealed, persisted records.
package issuance

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/bturcanu/certproof/pkg/integrity"
	"github.com/bturcanu/certproof/pkg/registry"
	"github.com/bturcanu/certproof/pkg/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const (
	instrumentationName = "github.com/bturcanu/certproof/pkg/issuance"

	// maxAttempts bounds retries when a fresh nonce collides with an existing ID.
	maxAttempts = 3
)

// Store is the persistence the pipeline writes to.
type Store interface {
	Put(context.Context, *types.CertificateRecord) error
	SetStatus(context.Context, string, types.Status, string) (*types.CertificateRecord, error)
}

// Renderer embeds the claim, ID and digest into the final document.
type Renderer interface {
	Render(context.Context, types.RenderRequest) (*types.RenderResponse, error)
}

// Issuer runs validate → encode → hash → derive ID → persist → render.
type Issuer struct {
	store     Store
	renderer  Renderer
	log       *slog.Logger
	issuerTag string
	now       func() time.Time
	rand      io.Reader
	issued    metric.Int64Counter
}

// Option customises an Issuer.
type Option func(*Issuer)

// WithIssuerTag overrides types.DefaultIssuerTag.
func WithIssuerTag(tag string) Option {
	return func(is *Issuer) {
		if tag != "" {
			is.issuerTag = tag
		}
	}
}

// WithClock overrides the issuance clock.
func WithClock(now func() time.Time) Option { return func(is *Issuer) { is.now = now } }

// WithRandom overrides the nonce source.
func WithRandom(r io.Reader) Option { return func(is *Issuer) { is.rand = r } }

// New creates an issuer. renderer may be nil, in which case no document is produced.
func New(store Store, renderer Renderer, log *slog.Logger, opts ...Option) *Issuer {
	is := &Issuer{
		store:     store,
		renderer:  renderer,
		log:       log,
		issuerTag: types.DefaultIssuerTag,
		now:       time.Now,
		rand:      rand.Reader,
	}
	for _, opt := range opts {
		opt(is)
	}

	counter, err := otel.Meter(instrumentationName).Int64Counter("certproof.issuance.requests",
		metric.WithDescription("Certificate issuance attempts by outcome"))
	if err != nil {
		otel.Handle(err)
		counter = noop.Int64Counter{}
	}
	is.issued = counter
	return is
}

// Issue validates in, seals a fresh claim and persists exactly one record.
// Validation failures return a *types.ValidationError before any hashing.
// A render failure does not undo issuance; it is reported in RenderError.
func (is *Issuer) Issue(ctx context.Context, in types.IssueInput) (*types.IssuedCertificate, error) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "issuance.Issue")
	defer span.End()

	if err := in.Validate(); err != nil {
		is.count(ctx, "rejected")
		return nil, err
	}

	var rec *types.CertificateRecord
	for attempt := 1; ; attempt++ {
		var err error
		rec, err = is.seal(in)
		if err != nil {
			is.count(ctx, "error")
			return nil, err
		}

		err = is.store.Put(ctx, rec)
		if err == nil {
			break
		}
		if errors.Is(err, registry.ErrDuplicateID) && attempt < maxAttempts {
			is.log.WarnContext(ctx, "certificate id collision, reissuing with fresh nonce",
				"certificate_id", rec.CertificateID,
				"attempt", attempt,
			)
			continue
		}
		is.count(ctx, "error")
		return nil, fmt.Errorf("issuance.Issue persist: %w", err)
	}

	out := &types.IssuedCertificate{Record: rec}
	if is.renderer != nil {
		resp, err := is.renderer.Render(ctx, types.RenderRequest{
			Claim:         rec.Claim,
			CertificateID: rec.CertificateID,
			Digest:        rec.Digest,
			Algorithm:     rec.Claim.IntegrityAlgorithmTag,
		})
		if err != nil {
			is.log.ErrorContext(ctx, "certificate render failed",
				"certificate_id", rec.CertificateID,
				"error", err,
			)
			out.RenderError = err.Error()
		} else {
			out.DocumentURL = resp.DocumentURL
		}
	}

	is.count(ctx, "issued")
	return out, nil
}

// Revoke marks an issued certificate as revoked. It is the hook for the
// external revocation workflow; verification never calls it.
func (is *Issuer) Revoke(ctx context.Context, certificateID, reason string) (*types.CertificateRecord, error) {
	if !integrity.ValidID(certificateID) {
		return nil, types.ErrMalformedID
	}
	rec, err := is.store.SetStatus(ctx, certificateID, types.StatusRevoked, reason)
	if err != nil {
		return rec, fmt.Errorf("issuance.Revoke: %w", err)
	}
	return rec, nil
}

func (is *Issuer) seal(in types.IssueInput) (*types.CertificateRecord, error) {
	nonce := make([]byte, types.NonceBytes)
	if _, err := io.ReadFull(is.rand, nonce); err != nil {
		return nil, fmt.Errorf("issuance.Issue nonce: %w", err)
	}
	now := is.now().UTC()

	claim := types.CertificateClaim{
		SubjectName:           in.SubjectName,
		CourseOrExamName:      in.CourseOrExamName,
		IssuedAtEpochMillis:   now.UnixMilli(),
		Nonce:                 hex.EncodeToString(nonce),
		FormatVersion:         types.FormatVersion,
		IssuerTag:             is.issuerTag,
		IntegrityAlgorithmTag: types.IntegrityAlgorithm,
	}
	sealed, err := integrity.Seal(claim)
	if err != nil {
		return nil, fmt.Errorf("issuance.Issue: %w", err)
	}
	return &types.CertificateRecord{
		CertificateID: sealed.ID,
		Digest:        sealed.Digest.Hex(),
		Claim:         claim,
		Canonical:     sealed.Canonical,
		Status:        types.StatusActive,
		CreatedAt:     now,
	}, nil
}

func (is *Issuer) count(ctx context.Context, outcome string) {
	is.issued.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
