package registry

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bturcanu/certproof/pkg/types"
)

// Logger wraps a Store and emits structured logs alongside writes.
// Subject names are never logged.
type Logger struct {
	store Store
	log   *slog.Logger
}

// NewLogger creates a logging decorator around store.
func NewLogger(store Store, log *slog.Logger) *Logger {
	return &Logger{store: store, log: log}
}

// Put persists and logs the record.
func (l *Logger) Put(ctx context.Context, rec *types.CertificateRecord) error {
	if err := l.store.Put(ctx, rec); err != nil {
		level := slog.LevelError
		if errors.Is(err, ErrDuplicateID) {
			level = slog.LevelWarn
		}
		l.log.Log(ctx, level, "certificate persist failed",
			"certificate_id", rec.CertificateID,
			"error", err,
		)
		return err
	}

	l.log.InfoContext(ctx, "certificate recorded",
		"certificate_id", rec.CertificateID,
		"issuer_tag", rec.Claim.IssuerTag,
		"format_version", rec.Claim.FormatVersion,
		"digest", rec.Digest,
	)
	return nil
}

// GetByID delegates to the store.
func (l *Logger) GetByID(ctx context.Context, certificateID string) (*types.CertificateRecord, error) {
	return l.store.GetByID(ctx, certificateID)
}

// SetStatus delegates to the store and logs the transition.
func (l *Logger) SetStatus(ctx context.Context, certificateID string, status types.Status, reason string) (*types.CertificateRecord, error) {
	rec, err := l.store.SetStatus(ctx, certificateID, status, reason)
	if err != nil {
		l.log.WarnContext(ctx, "certificate status change failed",
			"certificate_id", certificateID,
			"status", string(status),
			"error", err,
		)
		return rec, err
	}
	l.log.InfoContext(ctx, "certificate status changed",
		"certificate_id", certificateID,
		"status", string(status),
		"reason", reason,
	)
	return rec, nil
}
