package integrity

import (
	"fmt"

	"github.com/bturcanu/certproof/pkg/types"
)

// Sealed is the (canonical form, digest, ID) triple produced at issuance and
// independently reconstructed during document verification.
type Sealed struct {
	Canonical []byte
	Digest    Digest
	ID        string
}

// Seal runs Encode → Hash → DeriveID over a claim.
func Seal(c types.CertificateClaim) (Sealed, error) {
	canon, err := Encode(c)
	if err != nil {
		return Sealed{}, fmt.Errorf("integrity.Seal: %w", err)
	}
	d := Hash(canon)
	return Sealed{Canonical: canon, Digest: d, ID: DeriveID(d, c)}, nil
}
