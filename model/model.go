package model

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
)

// MaxTransferAmount is the largest amount a single transfer may carry.
// Amounts are stored as BIGINT by the relational backend, so they must
// fit in a signed 64-bit integer even though the domain type is uint64.
const MaxTransferAmount = uint64(math.MaxInt64)

// GenerateUUIDWithSuffix generates a UUID with a given module name as a prefix.
// This is useful for creating unique identifiers with context-specific prefixes.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", module, id.String())
}

// UUIDFromID extracts the UUID portion of a prefixed identifier such as
// "acc_9b2e...". Identifiers without a prefix are parsed as-is.
func UUIDFromID(id string) (uuid.UUID, error) {
	if i := strings.IndexByte(id, '_'); i >= 0 {
		id = id[i+1:]
	}
	return uuid.Parse(id)
}

// IsValidUUID reports whether s is a well-formed UUID. Caller-supplied
// transfer and account references must pass this check.
func IsValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// AddUint64 returns a+b and false on overflow.
func AddUint64(a, b uint64) (uint64, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}

// SubUint64 returns a-b and false when the result would be negative.
func SubUint64(a, b uint64) (uint64, bool) {
	if b > a {
		return 0, false
	}
	return a - b, true
}
