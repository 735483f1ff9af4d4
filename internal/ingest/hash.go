// Package ingest turns uploaded knowledge files into deduplicated chunks in
// the vector index: extract text, split it, hash every chunk and store only
// the chunks the index does not already hold.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the lowercase hex SHA-256 digest of text. It is the identity
// of a chunk in the vector index.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
