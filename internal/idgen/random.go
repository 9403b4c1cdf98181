// Package idgen generates the short random strings used for worker/instance
// identifiers and poll jitter, as distinct from the UUIDs used for
// resource-identity (lock holders, queue item ids). Grounded on
// rand/byte.go and rand/number.go.
package idgen

import (
	"crypto/rand"
	"math/big"

	"github.com/cockroachdb/errors"
)

// letters is the URL-safe alphabet used for generated instance ids.
const letters = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// String returns a random string of the given length drawn from letters.
func String(length int) (string, error) {
	if length <= 0 {
		return "", errors.Newf("idgen: length must be positive, got %d", length)
	}
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "idgen: failed to read random bytes")
	}
	for i := range b {
		b[i] = letters[int(b[i])%len(letters)]
	}
	return string(b), nil
}

// JitterMillis returns a random duration in [0, maxMillis) milliseconds,
// used to stagger MemoryQueue's maintenance-loop wakeups across a fleet of
// queue instances so they don't all wake on the same tick.
func JitterMillis(maxMillis int64) int64 {
	if maxMillis <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(maxMillis))
	if err != nil {
		return 0
	}
	return n.Int64()
}
