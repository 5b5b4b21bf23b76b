package transfer

import (
	"context"
)

// Strategy puts the wanted source tree into the remote application directory.
// Implementations must be idempotent: transferring the same source twice
// leaves the same tree, with no stale files from a previous version.
type Strategy interface {
	Transfer(ctx context.Context) error
}
