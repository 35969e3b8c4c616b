package store

import (
	"fmt"

	"github.com/layer-3/tokenward/core"
)

// unavailable tags a backend failure so the service layer can retry it
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", core.ErrStoreUnavailable, op, err)
}
