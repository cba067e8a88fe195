package integrity

import (
	"crypto/sha512"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"

	"github.com/bturcanu/certproof/pkg/types"
)

const (
	// IDPrefix starts every certificate ID.
	IDPrefix = "CERT"

	// MaxIDLength bounds input before pattern matching.
	MaxIDLength = 64

	maxTagInitials = 4
)

// Digest offsets feeding the four hex segments. The slices never overlap.
var segmentOffsets = [4]int{0, 2, 4, DigestSize - 2}

var idPattern = regexp.MustCompile(`^CERT-[A-F0-9]{4}-[A-F0-9]{4}-[A-F0-9]{4}-[A-Z0-9]+-[A-F0-9]{4}$`)

// DeriveID builds CERT-XXXX-XXXX-XXXX-<tag>-XXXX from the digest and the
// claim's course name. It is a pure function of its inputs.
func DeriveID(d Digest, c types.CertificateClaim) string {
	seg := func(i int) string {
		off := segmentOffsets[i]
		return strings.ToUpper(hex.EncodeToString(d[off : off+2]))
	}
	var b strings.Builder
	b.Grow(40)
	b.WriteString(IDPrefix)
	for i := 0; i < 3; i++ {
		b.WriteByte('-')
		b.WriteString(seg(i))
	}
	b.WriteByte('-')
	b.WriteString(CourseTag(c.CourseOrExamName))
	b.WriteByte('-')
	b.WriteString(seg(3))
	return b.String()
}

// CourseTag returns up to four initials of the course name's words followed by
// two hex characters of SHA-512(course). The tag hints at the course without
// being reversible to it, and never mentions the subject.
func CourseTag(course string) string {
	var b strings.Builder
	inWord := false
	for _, r := range course {
		alnum := r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r))
		if alnum && !inWord && b.Len() < maxTagInitials {
			b.WriteRune(unicode.ToUpper(r))
		}
		inWord = unicode.IsLetter(r) || unicode.IsDigit(r)
	}
	sum := sha512.Sum512([]byte(course))
	b.WriteString(strings.ToUpper(hex.EncodeToString(sum[:1])))
	return b.String()
}

// ValidID reports whether s matches the public certificate ID format.
func ValidID(s string) bool {
	if len(s) == 0 || len(s) > MaxIDLength {
		return false
	}
	return idPattern.MatchString(s)
}
