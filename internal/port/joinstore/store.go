// Package joinstore defines the Durable Record Store port for JOIN requests.
package joinstore

import (
	"context"

	"github.com/Strob0t/iotbridge/internal/domain/join"
)

// UpdateFunc receives the current record (nil if none exists) and returns the
// record to persist. Returning an error aborts the update without writing.
type UpdateFunc func(cur *join.Request) (*join.Request, error)

// Store persists JOIN requests keyed by tenant ID.
//
// Update runs the read-check-write cycle under the store's own lock, so
// checks made inside fn hold at the moment of the write.
type Store interface {
	// Load returns every record. A store that has never been written is empty, not an error.
	Load(ctx context.Context) (map[string]*join.Request, error)
	// Save replaces the whole document.
	Save(ctx context.Context, all map[string]*join.Request) error
	// Get returns one record or domain.ErrNotFound.
	Get(ctx context.Context, tenantID string) (*join.Request, error)
	// Update applies fn to the record for tenantID and stores the result.
	Update(ctx context.Context, tenantID string, fn UpdateFunc) (*join.Request, error)
}
