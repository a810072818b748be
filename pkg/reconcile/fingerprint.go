package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/entgraph/discovery/pkg/entity"
)

// Fingerprint hashes the content of an entity that providers control: the
// spec and the metadata labels. Status fields and annotations never feed the
// hash, so bookkeeping updates do not look like content changes.
//
// encoding/json marshals map keys in sorted order, which makes the
// serialization stable across passes.
func Fingerprint(e entity.Entity) string {
	payload := struct {
		Spec   map[string]any    `json:"spec"`
		Labels map[string]string `json:"labels"`
	}{
		Spec:   e.Spec,
		Labels: e.Metadata.Labels,
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		// Spec values come from JSON-decoded sources, so this only
		// happens when a provider hands us an unmarshalable value.
		return ""
	}

	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
