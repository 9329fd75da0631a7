// Package assembly is the line-assembly engine: the invariant-preserving
// state machine that maintains the three-level decomposition of a power line
// (ACLineSegment -> LineSection -> Span) and the connectivity-node graph
// underneath it as poles are added, marked as tap, or deleted.
//
// All entry points run in one store transaction; the per-line lock taken at
// the start serialises writers of the same line.
package assembly

import (
	"context"
	"errors"
	"log/slog"

	"lepm/internal/model"
	"lepm/internal/repository/network"
)

// Config is the engine configuration recognised by the core.
type Config struct {
	DefaultConductor     model.ConductorSpec
	EarthRadiusM         float64
	AllowJointSuspension bool
}

func (c Config) withDefaults() Config {
	if c.DefaultConductor == (model.ConductorSpec{}) {
		c.DefaultConductor = model.ConductorSpec{Type: "AC-70", Material: "aluminium", Section: 70}
	}
	if c.EarthRadiusM <= 0 {
		c.EarthRadiusM = 6_371_000
	}
	return c
}

// Engine coordinates the node registry, span builder, section grouper and
// segment controller over the persistence adapter.
type Engine struct {
	store    network.Store
	cfg      Config
	log      *slog.Logger
	onCommit func([]model.Change)
}

// Option configures an Engine.
type Option func(*Engine)

// WithCommitListener registers a hook invoked with the change records of
// every successfully committed operation.
func WithCommitListener(fn func([]model.Change)) Option {
	return func(e *Engine) { e.onCommit = fn }
}

// New creates an engine over the given store.
func New(store network.Store, cfg Config, log *slog.Logger, opts ...Option) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{store: store, cfg: cfg.withDefaults(), log: log}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Graph returns the fully populated read model of a line. No lock is taken;
// the store provides a point-in-time snapshot.
func (e *Engine) Graph(ctx context.Context, lineID int64) (*model.LineGraph, error) {
	g, err := e.store.LoadGraph(ctx, lineID)
	if err != nil {
		if errors.Is(err, network.ErrNotFound) {
			return nil, model.NotFoundf("line %d does not exist", lineID)
		}
		return nil, model.Internalf(err, "load line %d", lineID)
	}
	return g, nil
}

// mutation is the working state of one engine operation: the open
// transaction plus the line graph as seen (and kept current) inside it.
type mutation struct {
	e   *Engine
	ctx context.Context
	tx  network.Tx
	g   *model.LineGraph

	changes []model.Change
}

// withLine runs fn inside a transaction holding the line lock, with the
// line's graph loaded. Commit happens only when fn returns nil.
func (e *Engine) withLine(ctx context.Context, lineID int64, fn func(m *mutation) error) error {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return model.Internalf(err, "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.LockLine(ctx, lineID); err != nil {
		if errors.Is(err, network.ErrNotFound) {
			return model.NotFoundf("line %d does not exist", lineID)
		}
		return model.Internalf(err, "lock line %d", lineID)
	}
	g, err := tx.Graph(ctx, lineID)
	if err != nil {
		return model.Internalf(err, "load line %d", lineID)
	}

	m := &mutation{e: e, ctx: ctx, tx: tx, g: g}
	if err := fn(m); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return model.Internalf(err, "commit")
	}
	if e.onCommit != nil && len(m.changes) > 0 {
		e.onCommit(m.changes)
	}
	return nil
}

func (m *mutation) record(entity, mrid string, op model.ChangeOp) error {
	return m.recordFor(&m.g.Line, entity, mrid, op)
}

func (m *mutation) recordFor(line *model.Line, entity, mrid string, op model.ChangeOp) error {
	c := model.Change{
		LineID:   line.ID,
		LineMRID: line.MRID,
		Entity:   entity,
		MRID:     mrid,
		Op:       op,
	}
	if err := m.tx.AppendChange(m.ctx, &c); err != nil {
		return model.Internalf(err, "append change")
	}
	m.changes = append(m.changes, c)
	return nil
}

// --- graph-and-store write helpers -----------------------------------------
//
// Every mutation goes through one of these so the in-memory graph stays
// aligned with what the transaction has written.

func (m *mutation) addPole(p *model.Pole) error {
	if err := m.tx.CreatePole(m.ctx, p); err != nil {
		return model.Internalf(err, "create pole")
	}
	m.g.Poles = append(m.g.Poles, *p)
	return m.record("pole", p.MRID, model.OpCreate)
}

func (m *mutation) savePole(p *model.Pole) error {
	if err := m.tx.UpdatePole(m.ctx, p); err != nil {
		return model.Internalf(err, "update pole %d", p.ID)
	}
	for i := range m.g.Poles {
		if m.g.Poles[i].ID == p.ID {
			m.g.Poles[i] = *p
		}
	}
	return m.record("pole", p.MRID, model.OpUpdate)
}

func (m *mutation) addNode(n *model.ConnectivityNode) error {
	if err := m.tx.CreateNode(m.ctx, n); err != nil {
		return model.Internalf(err, "create connectivity node")
	}
	m.g.Nodes = append(m.g.Nodes, *n)
	return m.record("connectivity_node", n.MRID, model.OpCreate)
}

func (m *mutation) removeNode(n model.ConnectivityNode) error {
	if err := m.tx.DeleteNode(m.ctx, n.ID); err != nil {
		return model.Internalf(err, "delete connectivity node %d", n.ID)
	}
	for i := range m.g.Nodes {
		if m.g.Nodes[i].ID == n.ID {
			m.g.Nodes = append(m.g.Nodes[:i], m.g.Nodes[i+1:]...)
			break
		}
	}
	return m.record("connectivity_node", n.MRID, model.OpDelete)
}

func (m *mutation) addSpan(sp *model.Span) error {
	if err := m.tx.CreateSpan(m.ctx, sp); err != nil {
		return model.Internalf(err, "create span")
	}
	m.g.Spans = append(m.g.Spans, *sp)
	return m.record("span", sp.MRID, model.OpCreate)
}

func (m *mutation) saveSpan(sp *model.Span) error {
	if err := m.tx.UpdateSpan(m.ctx, sp); err != nil {
		return model.Internalf(err, "update span %d", sp.ID)
	}
	for i := range m.g.Spans {
		if m.g.Spans[i].ID == sp.ID {
			m.g.Spans[i] = *sp
		}
	}
	return m.record("span", sp.MRID, model.OpUpdate)
}

func (m *mutation) removeSpan(sp model.Span) error {
	if err := m.tx.DeleteSpan(m.ctx, sp.ID); err != nil {
		return model.Internalf(err, "delete span %d", sp.ID)
	}
	for i := range m.g.Spans {
		if m.g.Spans[i].ID == sp.ID {
			m.g.Spans = append(m.g.Spans[:i], m.g.Spans[i+1:]...)
			break
		}
	}
	return m.record("span", sp.MRID, model.OpDelete)
}

func (m *mutation) addSection(sec *model.LineSection) error {
	if err := m.tx.CreateSection(m.ctx, sec); err != nil {
		return model.Internalf(err, "create line section")
	}
	m.g.Sections = append(m.g.Sections, *sec)
	return m.record("line_section", sec.MRID, model.OpCreate)
}

func (m *mutation) saveSection(sec *model.LineSection) error {
	if err := m.tx.UpdateSection(m.ctx, sec); err != nil {
		return model.Internalf(err, "update line section %d", sec.ID)
	}
	for i := range m.g.Sections {
		if m.g.Sections[i].ID == sec.ID {
			m.g.Sections[i] = *sec
		}
	}
	return m.record("line_section", sec.MRID, model.OpUpdate)
}

func (m *mutation) removeSection(sec model.LineSection) error {
	if err := m.tx.DeleteSection(m.ctx, sec.ID); err != nil {
		return model.Internalf(err, "delete line section %d", sec.ID)
	}
	for i := range m.g.Sections {
		if m.g.Sections[i].ID == sec.ID {
			m.g.Sections = append(m.g.Sections[:i], m.g.Sections[i+1:]...)
			break
		}
	}
	return m.record("line_section", sec.MRID, model.OpDelete)
}

func (m *mutation) addSegment(seg *model.ACLineSegment) error {
	if err := m.tx.CreateSegment(m.ctx, seg); err != nil {
		return model.Internalf(err, "create segment")
	}
	m.g.Segments = append(m.g.Segments, *seg)
	return m.record("acline_segment", seg.MRID, model.OpCreate)
}

func (m *mutation) saveSegment(seg *model.ACLineSegment) error {
	if err := m.tx.UpdateSegment(m.ctx, seg); err != nil {
		return model.Internalf(err, "update segment %d", seg.ID)
	}
	for i := range m.g.Segments {
		if m.g.Segments[i].ID == seg.ID {
			m.g.Segments[i] = *seg
		}
	}
	return m.record("acline_segment", seg.MRID, model.OpUpdate)
}

func (m *mutation) removeSegment(seg model.ACLineSegment) error {
	if err := m.tx.DeleteSegment(m.ctx, seg.ID); err != nil {
		return model.Internalf(err, "delete segment %d", seg.ID)
	}
	for i := range m.g.Segments {
		if m.g.Segments[i].ID == seg.ID {
			m.g.Segments = append(m.g.Segments[:i], m.g.Segments[i+1:]...)
			break
		}
	}
	// The store cascades the segment's sections and their spans; mirror that
	// in the working graph.
	var gone []model.LineSection
	var goneSpans []model.Span
	for _, sec := range m.g.SectionsOf(seg.ID) {
		gone = append(gone, *sec)
		for _, sp := range m.g.SpansOf(sec.ID) {
			goneSpans = append(goneSpans, *sp)
		}
	}
	for _, sp := range goneSpans {
		for i := range m.g.Spans {
			if m.g.Spans[i].ID == sp.ID {
				m.g.Spans = append(m.g.Spans[:i], m.g.Spans[i+1:]...)
				break
			}
		}
		if err := m.record("span", sp.MRID, model.OpDelete); err != nil {
			return err
		}
	}
	for _, sec := range gone {
		for i := range m.g.Sections {
			if m.g.Sections[i].ID == sec.ID {
				m.g.Sections = append(m.g.Sections[:i], m.g.Sections[i+1:]...)
				break
			}
		}
		if err := m.record("line_section", sec.MRID, model.OpDelete); err != nil {
			return err
		}
	}
	return m.record("acline_segment", seg.MRID, model.OpDelete)
}
