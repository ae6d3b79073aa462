package cache

import (
	"fmt"

	"github.com/google/uuid"
)

// MyStatusKey caches the per-subcontractor map of post → request status used
// for UI badge rendering. postsHash identifies the queried set of posts; the
// entry carries a short TTL instead of per-transition invalidation.
func MyStatusKey(subcontractorID uuid.UUID, postsHash string) string {
	return fmt.Sprintf("requests:status:%s:%s", subcontractorID, postsHash)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
