// Package types defines the certificate schema shared by issuance, verification and the API.
package types

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ──────────────────────────────────────────────────────────────────────────────
// Limits and constants
// ──────────────────────────────────────────────────────────────────────────────

const (
	MinSubjectRunes = 2
	MaxSubjectRunes = 100
	MinCourseRunes  = 5
	MaxCourseRunes  = 200

	FormatVersion      = "4.0"
	IntegrityAlgorithm = "SHA-512"
	DefaultIssuerTag   = "certproof"

	// NonceBytes is the size of the random issuance nonce (128 bits).
	NonceBytes = 16
)

// Claim field names as they appear in the canonical form and in extractor output.
const (
	FieldSubjectName           = "subjectName"
	FieldCourseOrExamName      = "courseOrExamName"
	FieldIssuedAtEpochMillis   = "issuedAtEpochMillis"
	FieldNonce                 = "nonce"
	FieldFormatVersion         = "formatVersion"
	FieldIssuerTag             = "issuerTag"
	FieldIntegrityAlgorithmTag = "integrityAlgorithmTag"
)

// ClaimFields lists every field of a CertificateClaim. Nothing else may enter the canonical form.
var ClaimFields = []string{
	FieldSubjectName,
	FieldCourseOrExamName,
	FieldIssuedAtEpochMillis,
	FieldNonce,
	FieldFormatVersion,
	FieldIssuerTag,
	FieldIntegrityAlgorithmTag,
}

var (
	subjectPattern = regexp.MustCompile(`^[\p{L} .'\-]+$`)
	coursePattern  = regexp.MustCompile(`^[\p{L}\p{Nd} .,:;&()'/+#\-]+$`)
	noncePattern   = regexp.MustCompile(`^[0-9a-f]{32}$`)
)

// ──────────────────────────────────────────────────────────────────────────────
// CertificateClaim — the semantic payload that gets canonicalized and hashed.
// ──────────────────────────────────────────────────────────────────────────────

type CertificateClaim struct {
	SubjectName           string `json:"subjectName"`
	CourseOrExamName      string `json:"courseOrExamName"`
	IssuedAtEpochMillis   int64  `json:"issuedAtEpochMillis"`
	Nonce                 string `json:"nonce"`
	FormatVersion         string `json:"formatVersion"`
	IssuerTag             string `json:"issuerTag"`
	IntegrityAlgorithmTag string `json:"integrityAlgorithmTag"`
}

// Fields returns the claim as an extractor-shaped field map.
func (c CertificateClaim) Fields() map[string]any {
	return map[string]any{
		FieldSubjectName:           c.SubjectName,
		FieldCourseOrExamName:      c.CourseOrExamName,
		FieldIssuedAtEpochMillis:   c.IssuedAtEpochMillis,
		FieldNonce:                 c.Nonce,
		FieldFormatVersion:         c.FormatVersion,
		FieldIssuerTag:             c.IssuerTag,
		FieldIntegrityAlgorithmTag: c.IntegrityAlgorithmTag,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// IssueInput — raw issuance request.
// ──────────────────────────────────────────────────────────────────────────────

type IssueInput struct {
	SubjectName      string `json:"subject_name"`
	CourseOrExamName string `json:"course_or_exam_name"`
}

// Normalize trims surrounding whitespace. Interior whitespace is kept as typed.
func (in *IssueInput) Normalize() {
	in.SubjectName = strings.TrimSpace(in.SubjectName)
	in.CourseOrExamName = strings.TrimSpace(in.CourseOrExamName)
}

// Validate enforces the charset and length rules on both fields. Also normalizes.
func (in *IssueInput) Validate() error {
	in.Normalize()

	if err := checkText(FieldSubjectName, in.SubjectName, MinSubjectRunes, MaxSubjectRunes, subjectPattern,
		"may contain only letters, spaces, periods, hyphens and apostrophes"); err != nil {
		return err
	}
	if err := checkText(FieldCourseOrExamName, in.CourseOrExamName, MinCourseRunes, MaxCourseRunes, coursePattern,
		"contains unsupported characters"); err != nil {
		return err
	}
	return nil
}

func checkText(field, v string, minRunes, maxRunes int, pattern *regexp.Regexp, charsetReason string) error {
	if v == "" {
		return &ValidationError{Field: field, Reason: "required"}
	}
	if !utf8.ValidString(v) {
		return &ValidationError{Field: field, Reason: "must be valid UTF-8"}
	}
	n := utf8.RuneCountInString(v)
	if n < minRunes || n > maxRunes {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("must be %d–%d characters", minRunes, maxRunes)}
	}
	if !pattern.MatchString(v) {
		return &ValidationError{Field: field, Reason: charsetReason}
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Extractor output → claim
// ──────────────────────────────────────────────────────────────────────────────

// ClaimFromFields rebuilds a claim from extracted document metadata. The map
// must hold exactly the claim field set; anything else is an evidence failure,
// not a tamper signal.
func ClaimFromFields(fields map[string]any) (CertificateClaim, error) {
	var c CertificateClaim
	if len(fields) == 0 {
		return c, evidenceErr(fmt.Errorf("no claim fields supplied"))
	}

	var extra []string
	for k := range fields {
		if !isClaimField(k) {
			extra = append(extra, k)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return c, evidenceErr(fmt.Errorf("unexpected claim fields %v", extra))
	}

	var err error
	if c.SubjectName, err = stringField(fields, FieldSubjectName); err != nil {
		return c, err
	}
	if c.CourseOrExamName, err = stringField(fields, FieldCourseOrExamName); err != nil {
		return c, err
	}
	if c.IssuedAtEpochMillis, err = intField(fields, FieldIssuedAtEpochMillis); err != nil {
		return c, err
	}
	if c.Nonce, err = stringField(fields, FieldNonce); err != nil {
		return c, err
	}
	if c.FormatVersion, err = stringField(fields, FieldFormatVersion); err != nil {
		return c, err
	}
	if c.IssuerTag, err = stringField(fields, FieldIssuerTag); err != nil {
		return c, err
	}
	if c.IntegrityAlgorithmTag, err = stringField(fields, FieldIntegrityAlgorithmTag); err != nil {
		return c, err
	}
	return c, nil
}

// ValidNonce reports whether s is a lowercase hex-encoded 128-bit nonce.
func ValidNonce(s string) bool {
	return noncePattern.MatchString(s)
}

func isClaimField(name string) bool {
	for _, f := range ClaimFields {
		if f == name {
			return true
		}
	}
	return false
}

func stringField(fields map[string]any, name string) (string, error) {
	raw, ok := fields[name]
	if !ok {
		return "", evidenceErr(fmt.Errorf("missing claim field %s", name))
	}
	s, ok := raw.(string)
	if !ok {
		return "", evidenceErr(fmt.Errorf("claim field %s: expected string, got %T", name, raw))
	}
	return s, nil
}

func intField(fields map[string]any, name string) (int64, error) {
	raw, ok := fields[name]
	if !ok {
		return 0, evidenceErr(fmt.Errorf("missing claim field %s", name))
	}
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, evidenceErr(fmt.Errorf("claim field %s: %w", name, err))
		}
		return n, nil
	case float64:
		if v != math.Trunc(v) || math.Abs(v) > 1<<53 {
			return 0, evidenceErr(fmt.Errorf("claim field %s: non-integral number", name))
		}
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, evidenceErr(fmt.Errorf("claim field %s: %w", name, err))
		}
		return n, nil
	default:
		return 0, evidenceErr(fmt.Errorf("claim field %s: expected integer, got %T", name, raw))
	}
}

func evidenceErr(err error) error {
	return &VerificationError{Stage: StageEvidence, Err: err}
}
