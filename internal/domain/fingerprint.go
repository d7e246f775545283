package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// Fingerprint computes a stable cache key for a retrieval request. The same
// question, mode, k and filters always hash to the same value; any change to
// one of them changes the hash. Filter collections are canonicalized (sorted)
// so map iteration order and slice order cannot leak into the key.
func Fingerprint(r RetrievalRequest) string {
	var b strings.Builder

	b.WriteString(strings.TrimSpace(r.Question))
	b.WriteByte(0)
	b.WriteString(r.Mode.String())
	b.WriteByte(0)
	b.WriteString(strconv.Itoa(r.K))
	b.WriteByte(0)

	docs := make([]string, len(r.Filters.DocumentIDs))
	copy(docs, r.Filters.DocumentIDs)
	sort.Strings(docs)
	for _, id := range docs {
		b.WriteString(id)
		b.WriteByte(1)
	}
	b.WriteByte(0)

	b.WriteString(r.Filters.PathPrefix)
	b.WriteByte(0)

	keys := make([]string, 0, len(r.Filters.Metadata))
	for k := range r.Filters.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte(2)
		b.WriteString(r.Filters.Metadata[k])
		b.WriteByte(1)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// NormalizedContentHash hashes passage text after lowercasing and collapsing
// runs of whitespace. Two passages that differ only in casing or spacing
// collide on purpose; the deduplicator uses this as an alternative identity.
func NormalizedContentHash(text string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
