// Package util holds small helpers shared across the service.
package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random identifier like "ann_9f86d081884c7d65". Annotation
// ids use the "ann" prefix, token ids use "jti".
func NewID(prefix string) string {
	bytes := make([]byte, 12)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}
