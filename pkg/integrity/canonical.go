// Package integrity provides canonical encoding, hashing, and certificate ID
// derivation for certificate claims.
package integrity

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"unicode/utf8"

	"github.com/bturcanu/certproof/pkg/types"
)

// CanonicalVersion identifies the byte layout produced by Encode. Bump it
// together with types.FormatVersion if the layout ever changes.
const CanonicalVersion = 1

type field struct {
	name  string
	str   string
	num   int64
	isNum bool
}

// Encode produces the canonical form of a claim: the fixed field set, keys in
// byte-wise order, compact JSON-compatible text, UTF-8.
//
// Encode performs no business validation and never trims or rewrites values.
// Invalid UTF-8 is a structural error rather than something to repair, since
// repairing it would let two distinct inputs share one canonical form.
func Encode(c types.CertificateClaim) ([]byte, error) {
	fields := []field{
		{name: types.FieldSubjectName, str: c.SubjectName},
		{name: types.FieldCourseOrExamName, str: c.CourseOrExamName},
		{name: types.FieldIssuedAtEpochMillis, num: c.IssuedAtEpochMillis, isNum: true},
		{name: types.FieldNonce, str: c.Nonce},
		{name: types.FieldFormatVersion, str: c.FormatVersion},
		{name: types.FieldIssuerTag, str: c.IssuerTag},
		{name: types.FieldIntegrityAlgorithmTag, str: c.IntegrityAlgorithmTag},
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].name < fields[j].name })

	var buf bytes.Buffer
	buf.Grow(256 + len(c.SubjectName) + len(c.CourseOrExamName))
	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeString(&buf, f.name)
		buf.WriteByte(':')
		if f.isNum {
			buf.WriteString(strconv.FormatInt(f.num, 10))
			continue
		}
		if !utf8.ValidString(f.str) {
			return nil, fmt.Errorf("integrity.Encode: field %s is not valid UTF-8", f.name)
		}
		writeString(&buf, f.str)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

const hexDigits = "0123456789abcdef"

// writeString quotes s. Only '"', '\\' and control characters are escaped;
// everything else, including non-ASCII, is emitted as raw UTF-8.
func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for i := 0; i < len(s); i++ {
		b := s[i]
		switch {
		case b == '"':
			buf.WriteString(`\"`)
		case b == '\\':
			buf.WriteString(`\\`)
		case b == '\n':
			buf.WriteString(`\n`)
		case b == '\r':
			buf.WriteString(`\r`)
		case b == '\t':
			buf.WriteString(`\t`)
		case b < 0x20 || b == 0x7f:
			buf.WriteString(`\u00`)
			buf.WriteByte(hexDigits[b>>4])
			buf.WriteByte(hexDigits[b&0xf])
		default:
			buf.WriteByte(b)
		}
	}
	buf.WriteByte('"')
}
