// Package artifact stores rendered CIM export documents, keyed by line mRID
// and export file name. Exports are derived data: losing the store only costs
// a re-render.
package artifact

import (
	"context"
	"errors"
)

// Store persists export documents.
type Store interface {
	Put(ctx context.Context, lineMRID, name string, content []byte) error
	Get(ctx context.Context, lineMRID, name string) ([]byte, error)
	GetURL(ctx context.Context, lineMRID, name string) (string, error)
	List(ctx context.Context, lineMRID string) ([]string, error)
}

var ErrNotFound = errors.New("export not found")
