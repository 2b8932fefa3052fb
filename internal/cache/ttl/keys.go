package ttl

import (
	"bytes"
	"fmt"
	"strings"

	"goflare.io/folio/pkg/serialization"
)

// GenerateKey builds prefix + ":" + the canonical JSON of params. Map keys are emitted
// sorted, so two records with the same contents always give the same key.
func GenerateKey(prefix string, params map[string]any) string {
	if len(params) == 0 {
		return prefix
	}
	var buf bytes.Buffer
	if err := serialization.JsonEncoder(&buf).Encode(params); err != nil {
		// Fallback to simple string key
		return fmt.Sprintf("%s:%v", prefix, params)
	}
	return prefix + ":" + strings.TrimSpace(buf.String())
}
