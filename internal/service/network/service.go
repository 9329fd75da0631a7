// Package network is the application service over the assembly engine: it
// caches line snapshots, publishes committed changes to live watchers, and
// renders CIM exports into the artifact store.
package network

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"lepm/internal/assembly"
	"lepm/internal/cim"
	"lepm/internal/model"
	"lepm/internal/repository/artifact"
	"lepm/internal/repository/network"
	"lepm/internal/syncfeed"
)

const snapshotCacheSize = 256

// Export document names inside a line's artifact prefix.
const (
	ExportXMLName  = "cim.xml"
	ExportJSONName = "cim.json"
)

type Service struct {
	store   network.Store
	engine  *assembly.Engine
	exports artifact.Store
	hub     *syncfeed.Hub
	cache   *lru.Cache[int64, *model.LineGraph]
	log     *slog.Logger
}

func New(store network.Store, exports artifact.Store, cfg assembly.Config, log *slog.Logger) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}
	cache, err := lru.New[int64, *model.LineGraph](snapshotCacheSize)
	if err != nil {
		return nil, fmt.Errorf("init snapshot cache: %w", err)
	}
	s := &Service{
		store:   store,
		exports: exports,
		hub:     syncfeed.NewHub(),
		cache:   cache,
		log:     log,
	}
	s.engine = assembly.New(store, cfg, log, assembly.WithCommitListener(s.onCommit))
	return s, nil
}

// onCommit runs after every committed engine operation: stale snapshots are
// dropped and live watchers notified.
func (s *Service) onCommit(changes []model.Change) {
	purged := map[int64]struct{}{}
	for _, c := range changes {
		if _, done := purged[c.LineID]; done {
			continue
		}
		purged[c.LineID] = struct{}{}
		s.cache.Remove(c.LineID)
	}
	s.hub.Publish(changes)
}

func (s *Service) Close() {
	s.hub.Close()
	_ = s.store.Close()
}

// --- reads ------------------------------------------------------------------

func (s *Service) Lines(ctx context.Context) ([]model.Line, error) {
	lines, err := s.store.Lines(ctx)
	if err != nil {
		return nil, model.Internalf(err, "list lines")
	}
	return lines, nil
}

// Graph returns the line snapshot, served from cache when the line has not
// changed since it was last loaded.
func (s *Service) Graph(ctx context.Context, lineID int64) (*model.LineGraph, error) {
	if g, ok := s.cache.Get(lineID); ok {
		return g, nil
	}
	g, err := s.engine.Graph(ctx, lineID)
	if err != nil {
		return nil, err
	}
	s.cache.Add(lineID, g)
	return g, nil
}

func (s *Service) Substations(ctx context.Context) ([]model.Substation, error) {
	subs, err := s.store.Substations(ctx)
	if err != nil {
		return nil, model.Internalf(err, "list substations")
	}
	return subs, nil
}

// --- writes -----------------------------------------------------------------

func (s *Service) CreateLine(ctx context.Context, name string, voltageKV float64) (*model.Line, error) {
	return s.engine.CreateLine(ctx, name, voltageKV)
}

func (s *Service) DeleteLine(ctx context.Context, lineID int64) error {
	return s.engine.DeleteLine(ctx, lineID)
}

func (s *Service) AddPole(ctx context.Context, lineID int64, spec assembly.PoleSpec) (*model.Pole, error) {
	return s.engine.AddPole(ctx, lineID, spec)
}

func (s *Service) MarkPoleAsTap(ctx context.Context, poleID int64) error {
	return s.engine.MarkPoleAsTap(ctx, poleID)
}

func (s *Service) DeletePole(ctx context.Context, poleID int64) error {
	return s.engine.DeletePole(ctx, poleID)
}

func (s *Service) LinkLineToSubstation(ctx context.Context, lineID, firstPoleID, substationID int64) (*model.ACLineSegment, error) {
	return s.engine.LinkLineToSubstation(ctx, lineID, firstPoleID, substationID)
}

func (s *Service) CreateSubstation(ctx context.Context, sub *model.Substation) error {
	if sub.Name == "" {
		return model.InvalidArgumentf("substation name is required")
	}
	if err := s.store.CreateSubstation(ctx, sub); err != nil {
		return model.Internalf(err, "create substation")
	}
	return nil
}

// --- exports ----------------------------------------------------------------

// ExportCIM renders the line's CIM document in the requested format and
// publishes it to the artifact store under the line's mRID.
func (s *Service) ExportCIM(ctx context.Context, lineID int64, name string) ([]byte, error) {
	g, err := s.Graph(ctx, lineID)
	if err != nil {
		return nil, err
	}

	var out []byte
	switch name {
	case ExportXMLName:
		out, err = cim.ExportXML(g)
	case ExportJSONName:
		out, err = cim.ExportJSON(g)
	default:
		return nil, model.InvalidArgumentf("unknown export %q", name)
	}
	if err != nil {
		return nil, model.Internalf(err, "render export %s", name)
	}

	if s.exports != nil {
		if err := s.exports.Put(ctx, g.Line.MRID, name, out); err != nil {
			// The document is still returned; publication is best effort.
			s.log.Warn("publish export failed", "line_id", lineID, "name", name, "err", err)
		}
	}
	return out, nil
}

// ExportManifest lists the published export documents of a line with
// download URLs where the store can mint them.
func (s *Service) ExportManifest(ctx context.Context, lineID int64) (map[string]string, error) {
	if s.exports == nil {
		return map[string]string{}, nil
	}
	g, err := s.Graph(ctx, lineID)
	if err != nil {
		return nil, err
	}
	names, err := s.exports.List(ctx, g.Line.MRID)
	if err != nil {
		return nil, model.Internalf(err, "list exports")
	}
	manifest := make(map[string]string, len(names))
	for _, name := range names {
		url, err := s.exports.GetURL(ctx, g.Line.MRID, name)
		if err != nil {
			return nil, model.Internalf(err, "sign export url")
		}
		manifest[name] = url
	}
	return manifest, nil
}

// --- change feed ------------------------------------------------------------

// Changes returns committed changes past the cursor, oldest first.
func (s *Service) Changes(ctx context.Context, cursor int64, limit int) ([]model.Change, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	changes, err := s.store.ChangesSince(ctx, cursor, limit)
	if err != nil {
		return nil, model.Internalf(err, "read change log")
	}
	return changes, nil
}

// Subscribe attaches a live watcher to the change feed.
func (s *Service) Subscribe(ctx context.Context) <-chan model.Change {
	return s.hub.Subscribe(ctx)
}
