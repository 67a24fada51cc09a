package deduplication

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// identityFields identify a notification that carries no message id.
var identityFields = []string{"publisher_id", "event_type", "timestamp", "payload"}

type Hasher struct {
	algorithm string
}

func NewHasher(algorithm string) *Hasher {
	return &Hasher{algorithm: algorithm}
}

// ComputeHash digests the listed fields in order. Nested values are JSON
// encoded, which sorts map keys and keeps the digest stable.
func (h *Hasher) ComputeHash(msg map[string]interface{}, fields []string) (string, error) {
	if len(fields) == 0 {
		return "", fmt.Errorf("no fields specified for hashing")
	}

	var builder strings.Builder
	for _, field := range fields {
		switch v := msg[field].(type) {
		case nil:
		case string:
			builder.WriteString(v)
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				return "", fmt.Errorf("encode field %s: %w", field, err)
			}
			builder.Write(encoded)
		}
		builder.WriteByte('|')
	}

	input := []byte(builder.String())
	if h.algorithm == "md5" {
		sum := md5.Sum(input)
		return hex.EncodeToString(sum[:]), nil
	}
	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:]), nil
}
