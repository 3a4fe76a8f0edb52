package sync

// IsStale reports whether a stored embedding no longer matches the entity's
// current normalized text. An absent record (empty stored digest) is always
// stale. This check is pure and never triggers a provider call; bulk re-index
// relies on it to skip already-fresh entities cheaply.
func IsStale(currentDigest, storedDigest string) bool {
	return storedDigest == "" || currentDigest != storedDigest
}
