package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for digests. The version suffix allows the algorithm to
// change without old and new digests comparing equal.
const (
	DomainArtifact = "corrharness/artifact/v1"
	DomainEvidence = "corrharness/evidence/v1"
	DomainSnapshot = "corrharness/snapshot/v1"
)

// Digest computes SHA256(domain + 0x00 + data) as lowercase hex.
func Digest(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ArtifactDigest identifies artifact content independent of its path.
func ArtifactDigest(content []byte) string {
	return Digest(DomainArtifact, content)
}

// EvidenceFingerprint identifies an evidence line by the artifact it is
// attributed to and its text. Line numbers are excluded so the same defect
// keeps its fingerprint when earlier output shifts.
func EvidenceFingerprint(artifact, text string) (string, error) {
	data, err := Marshal(map[string]any{
		"artifact": artifact,
		"text":     text,
	})
	if err != nil {
		return "", fmt.Errorf("evidence fingerprint: %w", err)
	}
	return Digest(DomainEvidence, data), nil
}
