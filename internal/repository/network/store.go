// Package network is the persistence adapter for the line-assembly engine.
// It comes in two backends, in-memory and postgres, behind the same Store
// and Tx contracts; the engine and its tests are backend-agnostic.
package network

import (
	"context"
	"errors"
	"os"
	"strings"

	"lepm/internal/model"
)

// Store provides transactional access and snapshot reads over the network
// model. Reads outside a Tx observe committed state only.
type Store interface {
	// Begin opens a transaction. Callers must Commit or Rollback.
	Begin(ctx context.Context) (Tx, error)

	// Snapshot reads.
	Lines(ctx context.Context) ([]model.Line, error)
	GetLine(ctx context.Context, id int64) (*model.Line, error)
	LoadGraph(ctx context.Context, lineID int64) (*model.LineGraph, error)
	Substations(ctx context.Context) ([]model.Substation, error)
	GetSubstation(ctx context.Context, id int64) (*model.Substation, error)
	CreateSubstation(ctx context.Context, s *model.Substation) error
	ChangesSince(ctx context.Context, cursor int64, limit int) ([]model.Change, error)

	Close() error
}

// Tx is one atomic unit of work. LockLine serialises writers of a line; the
// postgres backend takes a row lock (SELECT ... FOR UPDATE), the memory
// backend holds the store mutex for the transaction's lifetime.
type Tx interface {
	Commit() error
	Rollback() error

	LockLine(ctx context.Context, lineID int64) (*model.Line, error)
	CreateLine(ctx context.Context, l *model.Line) error
	DeleteLine(ctx context.Context, lineID int64) error

	// Graph returns the fully populated graph of a line as seen inside the
	// transaction.
	Graph(ctx context.Context, lineID int64) (*model.LineGraph, error)

	GetPole(ctx context.Context, id int64) (*model.Pole, error)
	CreatePole(ctx context.Context, p *model.Pole) error
	UpdatePole(ctx context.Context, p *model.Pole) error
	DeletePole(ctx context.Context, id int64) error
	// SharedPresences returns the per-line mirror poles referencing the given
	// physical pole via shared_pole_id.
	SharedPresences(ctx context.Context, poleID int64) ([]model.Pole, error)

	NodesByPole(ctx context.Context, poleID int64) ([]model.ConnectivityNode, error)
	NodeForSubstation(ctx context.Context, substationID int64) (*model.ConnectivityNode, error)
	CreateNode(ctx context.Context, n *model.ConnectivityNode) error
	DeleteNode(ctx context.Context, id int64) error

	CreateSpan(ctx context.Context, s *model.Span) error
	UpdateSpan(ctx context.Context, s *model.Span) error
	DeleteSpan(ctx context.Context, id int64) error

	CreateSection(ctx context.Context, s *model.LineSection) error
	UpdateSection(ctx context.Context, s *model.LineSection) error
	DeleteSection(ctx context.Context, id int64) error

	CreateSegment(ctx context.Context, s *model.ACLineSegment) error
	UpdateSegment(ctx context.Context, s *model.ACLineSegment) error
	DeleteSegment(ctx context.Context, id int64) error

	GetSubstation(ctx context.Context, id int64) (*model.Substation, error)

	// AppendChange records one committed mutation in the change feed. The
	// record becomes visible to ChangesSince only after Commit.
	AppendChange(ctx context.Context, c *model.Change) error
}

// ErrNotFound is returned by lookups for missing rows. Callers translate it
// into a model.KindNotFound error with entity context.
var ErrNotFound = errors.New("network: not found")

// NewFromEnv returns a postgres-backed store when DATABASE_URL is set and an
// in-memory store otherwise.
func NewFromEnv() (Store, error) {
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		return NewPostgres(dsn)
	}
	return NewMemory(), nil
}
