package types

// ──────────────────────────────────────────────────────────────────────────────
// Document service I/O (rendering and metadata extraction happen elsewhere)
// ──────────────────────────────────────────────────────────────────────────────

// RenderRequest is handed to the external renderer after a record is persisted.
type RenderRequest struct {
	Claim         CertificateClaim `json:"claim"`
	CertificateID string           `json:"certificate_id"`
	Digest        string           `json:"digest"`
	Algorithm     string           `json:"algorithm"`
}

// RenderResponse is what the renderer returns.
type RenderResponse struct {
	DocumentURL string `json:"document_url"`
}

// ExtractedMetadata is the wire shape of extractor output and of the
// document verification request body.
type ExtractedMetadata struct {
	ClaimedDigest string         `json:"claimed_digest"`
	ClaimedID     string         `json:"claimed_id"`
	Fields        map[string]any `json:"fields"`
}

// Evidence converts extracted metadata into a verification request.
func (m ExtractedMetadata) Evidence() DocumentEvidence {
	return DocumentEvidence{
		ClaimedDigest: m.ClaimedDigest,
		ClaimedID:     m.ClaimedID,
		Fields:        m.Fields,
	}
}
