// Package tickets implements the ticket model: key derivation, the status
// state machine, identity resolution across provider thread changes, manual
// staff actions, and the post-batch reconciliation sweep.
package tickets

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DeriveKey computes the stable ticket key for a (thread ID, customer
// address) pair. The thread-id prefix keeps keys human-scannable in the
// database; the hash makes them collision-resistant across customers
// sharing a thread. One-way and deterministic; never re-derived after the
// ticket is repointed to a new thread.
func DeriveKey(threadID, customerEmail string) string {
	normalized := strings.ToLower(strings.TrimSpace(customerEmail))

	sum := sha256.Sum256([]byte(threadID + "|" + normalized))
	prefix := threadID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}

	return prefix + "-" + hex.EncodeToString(sum[:])[:8]
}
