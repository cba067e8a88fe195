package registry

import (
	"context"
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/bturcanu/certproof/pkg/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore persists certificate records and the ledger in Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore creates a store backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

// EnsureSchema creates the registry tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("registry.EnsureSchema: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Write path
// ──────────────────────────────────────────────────────────────────────────────

// Put inserts the record and its "issued" ledger entry in one transaction.
// The ledger advisory lock serialises chain appends so concurrent issuers
// cannot fork the chain.
func (s *PostgresStore) Put(ctx context.Context, rec *types.CertificateRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("registry.Put begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", ledgerLockID); err != nil {
		return fmt.Errorf("registry.Put advisory lock: %w", err)
	}

	c := rec.Claim
	res, err := tx.Exec(ctx, `
		INSERT INTO certificates (
			certificate_id, digest,
			subject_name, course_name, issued_at_ms, nonce,
			format_version, issuer_tag, algorithm_tag,
			canonical, status, created_at
		) VALUES (
			$1,$2,
			$3,$4,$5,$6,
			$7,$8,$9,
			$10,$11,$12
		)
		ON CONFLICT DO NOTHING`,
		rec.CertificateID, rec.Digest,
		c.SubjectName, c.CourseOrExamName, c.IssuedAtEpochMillis, c.Nonce,
		c.FormatVersion, c.IssuerTag, c.IntegrityAlgorithmTag,
		rec.Canonical, string(rec.Status), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("registry.Put insert certificate: %w", err)
	}
	if res.RowsAffected() == 0 {
		return ErrDuplicateID
	}

	if err := s.appendLedgerTx(ctx, tx, EntryIssued, rec); err != nil {
		return fmt.Errorf("registry.Put: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("registry.Put commit: %w", err)
	}
	return nil
}

// SetStatus revokes an active certificate and records the transition in the ledger.
func (s *PostgresStore) SetStatus(ctx context.Context, certificateID string, status types.Status, reason string) (*types.CertificateRecord, error) {
	if status != types.StatusRevoked {
		return nil, fmt.Errorf("registry.SetStatus: unsupported transition to %q", status)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry.SetStatus begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", ledgerLockID); err != nil {
		return nil, fmt.Errorf("registry.SetStatus advisory lock: %w", err)
	}

	res, err := tx.Exec(ctx, `
		UPDATE certificates SET status = $2, revoked_at = $3, revoke_reason = $4
		WHERE certificate_id = $1 AND status = 'active'`,
		certificateID, string(status), s.now(), reason)
	if err != nil {
		return nil, fmt.Errorf("registry.SetStatus update: %w", err)
	}

	rec, err := getByID(ctx, tx, certificateID)
	if err != nil {
		return nil, fmt.Errorf("registry.SetStatus fetch: %w", err)
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	if res.RowsAffected() == 0 {
		return rec, ErrAlreadyRevoked
	}

	if err := s.appendLedgerTx(ctx, tx, EntryRevoked, rec); err != nil {
		return nil, fmt.Errorf("registry.SetStatus: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("registry.SetStatus commit: %w", err)
	}
	return rec, nil
}

// UpsertArchiveCheckpoint records how far the ledger has been archived.
func (s *PostgresStore) UpsertArchiveCheckpoint(ctx context.Context, seq int64, hash string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ledger_archive_checkpoint (id, last_seq, last_hash, archived_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET last_seq = $1, last_hash = $2, archived_at = $3`,
		seq, hash, at)
	if err != nil {
		return fmt.Errorf("registry.UpsertArchiveCheckpoint: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Read path
// ──────────────────────────────────────────────────────────────────────────────

// GetByID retrieves a record, or (nil, nil) if none exists.
func (s *PostgresStore) GetByID(ctx context.Context, certificateID string) (*types.CertificateRecord, error) {
	rec, err := getByID(ctx, s.pool, certificateID)
	if err != nil {
		return nil, fmt.Errorf("registry.GetByID: %w", err)
	}
	return rec, nil
}

// GetLedgerEntries returns up to limit entries with seq > afterSeq, oldest first.
func (s *PostgresStore) GetLedgerEntries(ctx context.Context, afterSeq int64, limit int) ([]LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq, entry_id, kind, certificate_id, digest, status, prev_hash, hash, recorded_at
		FROM certificate_ledger
		WHERE seq > $1
		ORDER BY seq ASC
		LIMIT $2`, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("registry.GetLedgerEntries: %w", err)
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var kind, status string
		if err := rows.Scan(&e.Seq, &e.EntryID, &kind, &e.CertificateID, &e.Digest, &status,
			&e.PrevHash, &e.Hash, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("registry.GetLedgerEntries scan: %w", err)
		}
		e.Kind = EntryKind(kind)
		e.Status = types.Status(status)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry.GetLedgerEntries iteration: %w", err)
	}
	return entries, nil
}

// GetArchiveCheckpoint returns the last archived seq and hash (zero values if none).
func (s *PostgresStore) GetArchiveCheckpoint(ctx context.Context) (int64, string, error) {
	var seq int64
	var hash string
	err := s.pool.QueryRow(ctx, `
		SELECT last_seq, last_hash FROM ledger_archive_checkpoint WHERE id = 1`).Scan(&seq, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("registry.GetArchiveCheckpoint: %w", err)
	}
	return seq, hash, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getByID(ctx context.Context, q querier, certificateID string) (*types.CertificateRecord, error) {
	row := q.QueryRow(ctx, `
		SELECT certificate_id, digest,
		       subject_name, course_name, issued_at_ms, nonce,
		       format_version, issuer_tag, algorithm_tag,
		       canonical, status, created_at, revoked_at, revoke_reason
		FROM certificates WHERE certificate_id = $1`, certificateID)

	var rec types.CertificateRecord
	var status string
	err := row.Scan(
		&rec.CertificateID, &rec.Digest,
		&rec.Claim.SubjectName, &rec.Claim.CourseOrExamName, &rec.Claim.IssuedAtEpochMillis, &rec.Claim.Nonce,
		&rec.Claim.FormatVersion, &rec.Claim.IssuerTag, &rec.Claim.IntegrityAlgorithmTag,
		&rec.Canonical, &status, &rec.CreatedAt, &rec.RevokedAt, &rec.RevokeReason,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Status = types.Status(status)
	return &rec, nil
}

// appendLedgerTx links a new entry onto the chain. Callers must hold the ledger lock.
func (s *PostgresStore) appendLedgerTx(ctx context.Context, tx pgx.Tx, kind EntryKind, rec *types.CertificateRecord) error {
	var prevHash string
	err := tx.QueryRow(ctx, `SELECT hash FROM certificate_ledger ORDER BY seq DESC LIMIT 1`).Scan(&prevHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("ledger last hash: %w", err)
	}

	e := newEntry(kind, rec, prevHash, uuid.NewString(), s.now())
	_, err = tx.Exec(ctx, `
		INSERT INTO certificate_ledger (entry_id, kind, certificate_id, digest, status, prev_hash, hash, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.EntryID, string(e.Kind), e.CertificateID, e.Digest, string(e.Status), e.PrevHash, e.Hash, e.RecordedAt)
	if err != nil {
		return fmt.Errorf("ledger insert: %w", err)
	}
	return nil
}

// ledgerLockID is the advisory-lock key guarding ledger appends.
var ledgerLockID = lockID("certproof.certificate_ledger")

func lockID(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(binary.BigEndian.Uint64(h.Sum(nil)))
}
