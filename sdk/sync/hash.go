package sync

import "hash/fnv"

// ContentHash fingerprints document content for change detection. FNV-1a is
// deliberately non-cryptographic: the hash only answers "did this change",
// it carries no integrity guarantee.
func ContentHash(content []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(content)
	return h.Sum64()
}
