package integrity

import (
	"math/bits"
	"strings"
	"testing"
)

const sampleDigest = "3633a529ad1b1ab02bace9ecd49053f6882fc416b53b6deb42682c613777eaffe4bf70a60167e9fd6f8875d49f91ddc2eb5610ea4be37699374915bbd3dd6bc6"

func TestHash_Golden(t *testing.T) {
	d := Hash([]byte(sampleCanonical))
	if d.Hex() != sampleDigest {
		t.Errorf("expected %s, got %s", sampleDigest, d.Hex())
	}
	if len(d.Hex()) != 128 {
		t.Errorf("expected 512-bit hex length 128, got %d", len(d.Hex()))
	}
}

func TestHash_Deterministic(t *testing.T) {
	if Hash([]byte("x")) != Hash([]byte("x")) {
		t.Error("non-deterministic hash")
	}
	if Hash([]byte("x")) == Hash([]byte("y")) {
		t.Error("different inputs should produce different digests")
	}
}

func TestParseDigest(t *testing.T) {
	d, err := ParseDigest(sampleDigest)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.Hex() != sampleDigest {
		t.Errorf("round trip mismatch")
	}
	if _, err := ParseDigest(strings.ToUpper(sampleDigest)); err != nil {
		t.Errorf("uppercase hex should parse: %v", err)
	}
	for _, bad := range []string{"", "abc", sampleDigest[:126] + "zz", sampleDigest + "00"} {
		if _, err := ParseDigest(bad); err == nil {
			t.Errorf("ParseDigest(%q) should fail", bad)
		}
	}
}

func hammingFraction(a, b Digest) float64 {
	diff := 0
	for i := range a {
		diff += bits.OnesCount8(a[i] ^ b[i])
	}
	return float64(diff) / float64(DigestSize*8)
}

func TestHash_Avalanche(t *testing.T) {
	base := sampleClaim()
	baseCanon, _ := Encode(base)
	baseDigest := Hash(baseCanon)

	replacements := "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	var total float64
	samples := 0
	minFrac := 1.0
	for pos := 0; pos < len(base.SubjectName); pos++ {
		for _, r := range replacements {
			if byte(r) == base.SubjectName[pos] {
				continue
			}
			c := base
			c.SubjectName = base.SubjectName[:pos] + string(r) + base.SubjectName[pos+1:]
			canon, err := Encode(c)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			f := hammingFraction(baseDigest, Hash(canon))
			total += f
			minFrac = min(minFrac, f)
			samples++
		}
	}

	mean := total / float64(samples)
	if mean < 0.45 || mean > 0.55 {
		t.Errorf("mean changed-bit fraction %.3f over %d samples, expected ~0.5", mean, samples)
	}
	if minFrac < 0.40 {
		t.Errorf("a single-character change flipped only %.1f%% of digest bits", minFrac*100)
	}
}
