package verify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bturcanu/certproof/pkg/issuance"
	"github.com/bturcanu/certproof/pkg/registry"
	"github.com/bturcanu/certproof/pkg/types"
)

type countingStore struct {
	inner   Store
	lookups atomic.Int64
	err     error
}

func (c *countingStore) GetByID(ctx context.Context, id string) (*types.CertificateRecord, error) {
	c.lookups.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.inner.GetByID(ctx, id)
}

type fakeExtractor struct {
	meta *types.ExtractedMetadata
	err  error
}

func (f fakeExtractor) Extract(context.Context, []byte) (*types.ExtractedMetadata, error) {
	return f.meta, f.err
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fixture struct {
	mem    *registry.MemoryStore
	store  *countingStore
	engine *Engine
	issuer *issuance.Issuer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := registry.NewMemoryStore()
	store := &countingStore{inner: mem}
	return &fixture{
		mem:    mem,
		store:  store,
		engine: New(store, nil, discard()),
		issuer: issuance.New(mem, nil, discard(), issuance.WithClock(func() time.Time { return time.UnixMilli(1700000000000) })),
	}
}

func (f *fixture) issue(t *testing.T, subject, course string) *types.CertificateRecord {
	t.Helper()
	out, err := f.issuer.Issue(context.Background(), types.IssueInput{SubjectName: subject, CourseOrExamName: course})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return out.Record
}

func evidenceFor(rec *types.CertificateRecord) types.DocumentEvidence {
	return types.DocumentEvidence{
		ClaimedDigest: rec.Digest,
		ClaimedID:     rec.CertificateID,
		Fields:        rec.Claim.Fields(),
	}
}

func TestScenario_IssueLookupTamper(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.issue(t, "Jane Doe", "Intro to Cryptography")

	if !strings.HasPrefix(rec.CertificateID, "CERT-") || len(rec.Digest) != 128 {
		t.Fatalf("unexpected issued record %s / %s", rec.CertificateID, rec.Digest)
	}

	byID := f.engine.Verify(ctx, types.BareID{ID: rec.CertificateID})
	if !byID.Valid || byID.SecurityLevel != types.LevelVerified || byID.Method != types.MethodIDLookup {
		t.Fatalf("path B: expected verified, got %+v", byID)
	}

	doc := evidenceFor(rec)
	doc.Fields[types.FieldSubjectName] = "Jane Roe"
	v := f.engine.Verify(ctx, doc)
	if v.Valid || !v.TamperDetected || v.SecurityLevel != types.LevelTamperDetected {
		t.Fatalf("path A: expected tamper, got %+v", v)
	}
	if v.Method != types.MethodDocumentReHash {
		t.Errorf("expected document re-hash method, got %s", v.Method)
	}
	if !errors.Is(v.Err(), types.ErrTamperDetected) {
		t.Errorf("expected ErrTamperDetected, got %v", v.Err())
	}
}

func TestDocument_Unmodified(t *testing.T) {
	f := newFixture(t)
	rec := f.issue(t, "Jane Doe", "Intro to Cryptography")

	v := f.engine.Verify(context.Background(), evidenceFor(rec))
	if !v.Valid || v.TamperDetected || v.SecurityLevel != types.LevelVerified {
		t.Fatalf("expected verified, got %+v", v)
	}
	if v.Details.CertificateID != rec.CertificateID || v.Details.IssuedAt == nil {
		t.Errorf("unexpected details %+v", v.Details)
	}
}

func TestDocument_UppercaseClaimedDigest(t *testing.T) {
	f := newFixture(t)
	rec := f.issue(t, "Jane Doe", "Intro to Cryptography")
	doc := evidenceFor(rec)
	doc.ClaimedDigest = strings.ToUpper(doc.ClaimedDigest)
	if v := f.engine.Verify(context.Background(), doc); !v.Valid {
		t.Fatalf("hex case should not matter, got %+v", v)
	}
}

func TestDocument_EveryFieldIsTamperSensitive(t *testing.T) {
	f := newFixture(t)
	rec := f.issue(t, "Jane Doe", "Intro to Cryptography")

	mutations := map[string]any{
		types.FieldSubjectName:           "Jane Doe.",
		types.FieldCourseOrExamName:      "Intro to Cryptography II",
		types.FieldIssuedAtEpochMillis:   rec.Claim.IssuedAtEpochMillis + 1,
		types.FieldNonce:                 strings.Repeat("0", 32),
		types.FieldFormatVersion:         "3.0",
		types.FieldIssuerTag:             "someone-else",
		types.FieldIntegrityAlgorithmTag: "SHA-256",
	}
	for field, value := range mutations {
		t.Run(field, func(t *testing.T) {
			doc := evidenceFor(rec)
			doc.Fields[field] = value
			v := f.engine.Verify(context.Background(), doc)
			if v.Valid || !v.TamperDetected || v.SecurityLevel != types.LevelTamperDetected {
				t.Fatalf("mutating %s: expected tamper, got %+v", field, v)
			}
		})
	}
}

func TestDocument_TamperedClaimedDigest(t *testing.T) {
	f := newFixture(t)
	rec := f.issue(t, "Jane Doe", "Intro to Cryptography")
	doc := evidenceFor(rec)
	doc.ClaimedDigest = strings.Repeat("a", 128)

	v := f.engine.Verify(context.Background(), doc)
	if !v.TamperDetected {
		t.Fatalf("expected tamper, got %+v", v)
	}
	if len(v.Details.FailedChecks) != 1 || v.Details.FailedChecks[0] != types.CheckClaimedDigest {
		t.Errorf("expected only the claimed digest check to fail, got %v", v.Details.FailedChecks)
	}
}

func TestDocument_TamperedClaimedID(t *testing.T) {
	f := newFixture(t)
	rec := f.issue(t, "Jane Doe", "Intro to Cryptography")

	for _, claimed := range []string{"CERT-0000-0000-0000-ITC00-0000", "not an id"} {
		doc := evidenceFor(rec)
		doc.ClaimedID = claimed
		v := f.engine.Verify(context.Background(), doc)
		if !v.TamperDetected || v.Details.CertificateID != rec.CertificateID {
			t.Fatalf("claimed id %q: expected tamper on %s, got %+v", claimed, rec.CertificateID, v)
		}
	}
}

func TestDocument_UnknownIsNotTamper(t *testing.T) {
	f := newFixture(t)
	// A self-consistent document for a certificate this system never issued.
	other := issuance.New(registry.NewMemoryStore(), nil, discard())
	out, err := other.Issue(context.Background(), types.IssueInput{SubjectName: "Mallory", CourseOrExamName: "Forged Credentials"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	v := f.engine.Verify(context.Background(), evidenceFor(out.Record))
	if v.Valid || v.TamperDetected || v.SecurityLevel != types.LevelUnknown {
		t.Fatalf("expected unknown without tamper, got %+v", v)
	}
	if !errors.Is(v.Err(), types.ErrUnknownCertificate) {
		t.Errorf("expected ErrUnknownCertificate, got %v", v.Err())
	}
}

func TestDocument_Revoked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.issue(t, "Jane Doe", "Intro to Cryptography")
	if _, err := f.issuer.Revoke(ctx, rec.CertificateID, "issued in error"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	v := f.engine.Verify(ctx, evidenceFor(rec))
	if v.Valid || v.TamperDetected || v.SecurityLevel != types.LevelRevoked {
		t.Fatalf("expected revoked, got %+v", v)
	}

	// Tamper outranks revocation.
	doc := evidenceFor(rec)
	doc.Fields[types.FieldSubjectName] = "Jane Roe"
	if v := f.engine.Verify(ctx, doc); v.SecurityLevel != types.LevelTamperDetected {
		t.Fatalf("expected tamper on revoked record, got %+v", v)
	}
}

func TestDocument_UpstreamFailuresAreNotTamper(t *testing.T) {
	f := newFixture(t)
	rec := f.issue(t, "Jane Doe", "Intro to Cryptography")

	missingField := evidenceFor(rec)
	delete(missingField.Fields, types.FieldNonce)
	extraField := evidenceFor(rec)
	extraField.Fields["grade"] = "A+"
	noDigest := evidenceFor(rec)
	noDigest.ClaimedDigest = ""
	noID := evidenceFor(rec)
	noID.ClaimedID = "  "

	tests := []struct {
		name  string
		req   types.DocumentEvidence
		stage string
	}{
		{"extraction error", types.DocumentEvidence{ExtractionErr: errors.New("pdf unreadable")}, types.StageExtraction},
		{"missing field", missingField, types.StageEvidence},
		{"extra field", extraField, types.StageEvidence},
		{"missing digest", noDigest, types.StageEvidence},
		{"missing id", noID, types.StageEvidence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := f.engine.Verify(context.Background(), tt.req)
			if v.Valid || v.TamperDetected || v.SecurityLevel != types.LevelVerificationFailed {
				t.Fatalf("expected verification failure, got %+v", v)
			}
			if v.Details.Stage != tt.stage {
				t.Errorf("expected stage %s, got %s", tt.stage, v.Details.Stage)
			}
			if !errors.Is(v.Err(), types.ErrVerification) {
				t.Errorf("expected ErrVerification, got %v", v.Err())
			}
		})
	}
}

func TestStoreFailure(t *testing.T) {
	f := newFixture(t)
	rec := f.issue(t, "Jane Doe", "Intro to Cryptography")
	f.store.err = errors.New("connection reset")

	for _, req := range []types.VerificationRequest{evidenceFor(rec), types.BareID{ID: rec.CertificateID}} {
		v := f.engine.Verify(context.Background(), req)
		if v.SecurityLevel != types.LevelVerificationFailed || v.TamperDetected {
			t.Fatalf("%T: expected verification failure, got %+v", req, v)
		}
		if strings.Contains(v.Details.Message, "connection reset") {
			t.Error("internal errors must not be echoed to verifiers")
		}
	}
}

func TestID_MalformedNeverLooksUp(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"", "CERT-1234", "cert-3633-a529-ad1b-itcee-6bc6", "CERT-3633-A529-AD1B-ITCEE-6BC6 ", "' OR 1=1 --"} {
		v := f.engine.Verify(context.Background(), types.BareID{ID: id})
		if v.Valid || v.SecurityLevel != types.LevelMalformed {
			t.Errorf("%q: expected malformed, got %+v", id, v)
		}
		if !errors.Is(v.Err(), types.ErrMalformedID) {
			t.Errorf("%q: expected ErrMalformedID, got %v", id, v.Err())
		}
	}
	if n := f.store.lookups.Load(); n != 0 {
		t.Fatalf("malformed ids triggered %d lookups", n)
	}
}

func TestID_UnknownAndRevoked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v := f.engine.Verify(ctx, types.BareID{ID: "CERT-0000-0000-0000-ABC12-0000"})
	if v.Valid || v.TamperDetected || v.SecurityLevel != types.LevelUnknown {
		t.Fatalf("expected unknown, got %+v", v)
	}

	rec := f.issue(t, "Jane Doe", "Intro to Cryptography")
	if _, err := f.issuer.Revoke(ctx, rec.CertificateID, ""); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	v = f.engine.Verify(ctx, types.BareID{ID: rec.CertificateID})
	if v.Valid || v.SecurityLevel != types.LevelRevoked || v.Details.Status != types.StatusRevoked {
		t.Fatalf("expected revoked, got %+v", v)
	}
	if v.Details.Message == "" || v.Details.Code != "revoked" {
		t.Errorf("revoked verdict needs its own detail, got %+v", v.Details)
	}
}

func TestVerdictsNeverCarrySubject(t *testing.T) {
	f := newFixture(t)
	rec := f.issue(t, "Jane Doe", "Intro to Cryptography")
	for _, v := range []types.Verdict{
		f.engine.Verify(context.Background(), types.BareID{ID: rec.CertificateID}),
		f.engine.Verify(context.Background(), evidenceFor(rec)),
	} {
		if strings.Contains(v.Details.Message+v.Details.CertificateID, "Jane") {
			t.Errorf("verdict leaks subject: %+v", v)
		}
	}
}

func TestPointerRequests(t *testing.T) {
	f := newFixture(t)
	rec := f.issue(t, "Jane Doe", "Intro to Cryptography")
	ev := evidenceFor(rec)
	if v := f.engine.Verify(context.Background(), &ev); !v.Valid {
		t.Errorf("pointer evidence: got %+v", v)
	}
	if v := f.engine.Verify(context.Background(), &types.BareID{ID: rec.CertificateID}); !v.Valid {
		t.Errorf("pointer id: got %+v", v)
	}
	if v := f.engine.Verify(context.Background(), nil); v.SecurityLevel != types.LevelVerificationFailed {
		t.Errorf("nil request: got %+v", v)
	}
}

func TestExtractAndVerify(t *testing.T) {
	f := newFixture(t)
	rec := f.issue(t, "Jane Doe", "Intro to Cryptography")
	meta := &types.ExtractedMetadata{ClaimedDigest: rec.Digest, ClaimedID: rec.CertificateID, Fields: rec.Claim.Fields()}

	ok := New(f.store, fakeExtractor{meta: meta}, discard())
	if v := ok.ExtractAndVerify(context.Background(), []byte("%PDF-1.7")); !v.Valid {
		t.Fatalf("expected verified, got %+v", v)
	}

	broken := New(f.store, fakeExtractor{err: errors.New("timeout")}, discard())
	v := broken.ExtractAndVerify(context.Background(), []byte("%PDF-1.7"))
	if v.SecurityLevel != types.LevelVerificationFailed || v.TamperDetected || v.Details.Stage != types.StageExtraction {
		t.Fatalf("expected extraction failure, got %+v", v)
	}

	none := New(f.store, nil, discard())
	if v := none.ExtractAndVerify(context.Background(), nil); v.SecurityLevel != types.LevelVerificationFailed {
		t.Fatalf("expected failure without extractor, got %+v", v)
	}
}

func TestConcurrentVerification(t *testing.T) {
	f := newFixture(t)
	rec := f.issue(t, "Jane Doe", "Intro to Cryptography")

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var req types.VerificationRequest = types.BareID{ID: rec.CertificateID}
			if i%2 == 0 {
				req = evidenceFor(rec)
			}
			if v := f.engine.Verify(context.Background(), req); !v.Valid {
				t.Errorf("concurrent verify: %+v", v)
			}
		}(i)
	}
	wg.Wait()
}
