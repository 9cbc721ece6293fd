package merge

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/XppaiCyberr/clash-verge-xpp/internal/storage/models"
)

// Provenance records one profile's contribution to an effective configuration.
type Provenance struct {
	ProfileID string
	Name      string
	Kind      models.ProfileKind
}

// EffectiveConfig is the immutable output of a merge: the fully resolved
// configuration document plus the profiles that contributed to it.
type EffectiveConfig struct {
	// Document is the canonical YAML handed to the proxy core.
	Document []byte

	// Hash is the sha256 hex digest of Document.
	Hash string

	// Provenance lists contributing profiles in application order.
	Provenance []Provenance

	// Stable is false when the chain contains scripts and re-execution under
	// the same inputs produced different output.
	Stable bool

	GeneratedAt time.Time
}

func hashDocument(doc []byte) string {
	sum := sha256.Sum256(doc)
	return hex.EncodeToString(sum[:])
}
