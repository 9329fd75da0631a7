package network

import (
	"context"
	"sort"
	"sync"
	"time"

	"lepm/internal/model"
)

// MemoryStore is the in-memory backend. A transaction works on a deep copy
// of the committed tables and swaps it in on Commit; the store mutex is held
// for the lifetime of the transaction, which serialises writers the way the
// postgres row lock does.
type MemoryStore struct {
	mu         sync.RWMutex
	data       *memTables
	nextID     int64
	nextCursor int64
}

type memTables struct {
	lines       map[int64]model.Line
	substations map[int64]model.Substation
	poles       map[int64]model.Pole
	nodes       map[int64]model.ConnectivityNode
	spans       map[int64]model.Span
	sections    map[int64]model.LineSection
	segments    map[int64]model.ACLineSegment
	terminals   map[int64]model.Terminal
	changes     []model.Change
}

func newMemTables() *memTables {
	return &memTables{
		lines:       map[int64]model.Line{},
		substations: map[int64]model.Substation{},
		poles:       map[int64]model.Pole{},
		nodes:       map[int64]model.ConnectivityNode{},
		spans:       map[int64]model.Span{},
		sections:    map[int64]model.LineSection{},
		segments:    map[int64]model.ACLineSegment{},
		terminals:   map[int64]model.Terminal{},
	}
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (t *memTables) clone() *memTables {
	return &memTables{
		lines:       copyMap(t.lines),
		substations: copyMap(t.substations),
		poles:       copyMap(t.poles),
		nodes:       copyMap(t.nodes),
		spans:       copyMap(t.spans),
		sections:    copyMap(t.sections),
		segments:    copyMap(t.segments),
		terminals:   copyMap(t.terminals),
		changes:     t.changes,
	}
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{data: newMemTables()}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

// Begin acquires the store for writing until Commit or Rollback.
func (s *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	s.mu.Lock()
	return &memTx{store: s, work: s.data.clone()}, nil
}

func (s *MemoryStore) Lines(ctx context.Context) ([]model.Line, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Line, 0, len(s.data.lines))
	for _, l := range s.data.lines {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetLine(ctx context.Context, id int64) (*model.Line, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.data.lines[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &l, nil
}

func (s *MemoryStore) LoadGraph(ctx context.Context, lineID int64) (*model.LineGraph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadGraphFrom(s.data, lineID)
}

func (s *MemoryStore) Substations(ctx context.Context) ([]model.Substation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Substation, 0, len(s.data.substations))
	for _, sub := range s.data.substations {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetSubstation(ctx context.Context, id int64) (*model.Substation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.data.substations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &sub, nil
}

func (s *MemoryStore) CreateSubstation(ctx context.Context, sub *model.Substation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ID == 0 {
		sub.ID = s.id()
	}
	if sub.MRID == "" {
		sub.MRID = model.NewMRID()
	}
	s.data.substations[sub.ID] = *sub
	return nil
}

func (s *MemoryStore) ChangesSince(ctx context.Context, cursor int64, limit int) ([]model.Change, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Change
	for _, c := range s.data.changes {
		if c.Cursor > cursor {
			out = append(out, c)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func loadGraphFrom(t *memTables, lineID int64) (*model.LineGraph, error) {
	line, ok := t.lines[lineID]
	if !ok {
		return nil, ErrNotFound
	}
	g := &model.LineGraph{Line: line}

	for _, p := range t.poles {
		if p.LineID == lineID {
			g.Poles = append(g.Poles, p)
		}
	}
	segIDs := map[int64]struct{}{}
	for _, seg := range t.segments {
		if seg.LineID == lineID {
			g.Segments = append(g.Segments, seg)
			segIDs[seg.ID] = struct{}{}
		}
	}
	secIDs := map[int64]struct{}{}
	for _, sec := range t.sections {
		if _, ok := segIDs[sec.SegmentID]; ok {
			g.Sections = append(g.Sections, sec)
			secIDs[sec.ID] = struct{}{}
		}
	}
	for _, sp := range t.spans {
		if sp.LineID == lineID {
			g.Spans = append(g.Spans, sp)
		}
	}
	for _, term := range t.terminals {
		if _, ok := segIDs[term.SegmentID]; ok {
			g.Terminals = append(g.Terminals, term)
		}
	}
	// The line's own nodes, plus substation nodes its segments terminate into.
	nodeIDs := map[int64]struct{}{}
	for _, n := range t.nodes {
		if n.LineID != nil && *n.LineID == lineID {
			g.Nodes = append(g.Nodes, n)
			nodeIDs[n.ID] = struct{}{}
		}
	}
	for _, seg := range g.Segments {
		for _, id := range []int64{seg.FromNodeID, valueOr(seg.ToNodeID)} {
			if id == 0 {
				continue
			}
			if _, seen := nodeIDs[id]; seen {
				continue
			}
			if n, ok := t.nodes[id]; ok {
				g.Nodes = append(g.Nodes, n)
				nodeIDs[id] = struct{}{}
			}
		}
	}
	g.Sort()
	return g, nil
}

func valueOr(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

// memTx is a transaction over a working copy of the tables.
type memTx struct {
	store   *MemoryStore
	work    *memTables
	pending []model.Change
	done    bool
}

func (tx *memTx) Commit() error {
	if tx.done {
		return nil
	}
	tx.done = true
	// changes is append-only; re-slice to avoid aliasing with readers.
	tx.work.changes = append(tx.work.changes[:len(tx.work.changes):len(tx.work.changes)], tx.pending...)
	tx.store.data = tx.work
	tx.store.mu.Unlock()
	return nil
}

func (tx *memTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.store.mu.Unlock()
	return nil
}

func (tx *memTx) LockLine(ctx context.Context, lineID int64) (*model.Line, error) {
	l, ok := tx.work.lines[lineID]
	if !ok {
		return nil, ErrNotFound
	}
	return &l, nil
}

func (tx *memTx) CreateLine(ctx context.Context, l *model.Line) error {
	if l.ID == 0 {
		l.ID = tx.store.id()
	}
	if l.MRID == "" {
		l.MRID = model.NewMRID()
	}
	tx.work.lines[l.ID] = *l
	return nil
}

// DeleteLine applies the schema cascade: segments with their sections, spans
// and terminals, the line's nodes and poles, and mirror presences of those
// poles on other lines.
func (tx *memTx) DeleteLine(ctx context.Context, lineID int64) error {
	if _, ok := tx.work.lines[lineID]; !ok {
		return ErrNotFound
	}
	for id, seg := range tx.work.segments {
		if seg.LineID == lineID {
			tx.cascadeSegment(id)
		}
	}
	for id, sp := range tx.work.spans {
		if sp.LineID == lineID {
			delete(tx.work.spans, id)
		}
	}
	for id, n := range tx.work.nodes {
		if n.LineID != nil && *n.LineID == lineID {
			delete(tx.work.nodes, id)
		}
	}
	for id, p := range tx.work.poles {
		if p.LineID == lineID {
			tx.cascadePole(id)
		}
	}
	delete(tx.work.lines, lineID)
	return nil
}

func (tx *memTx) cascadeSegment(id int64) {
	for secID, sec := range tx.work.sections {
		if sec.SegmentID != id {
			continue
		}
		for spID, sp := range tx.work.spans {
			if sp.SectionID == secID {
				delete(tx.work.spans, spID)
			}
		}
		delete(tx.work.sections, secID)
	}
	for termID, term := range tx.work.terminals {
		if term.SegmentID == id {
			delete(tx.work.terminals, termID)
		}
	}
	delete(tx.work.segments, id)
}

func (tx *memTx) cascadePole(id int64) {
	for nodeID, n := range tx.work.nodes {
		if n.PoleID != nil && *n.PoleID == id {
			delete(tx.work.nodes, nodeID)
		}
	}
	for mirrorID, m := range tx.work.poles {
		if m.SharedPoleID != nil && *m.SharedPoleID == id {
			delete(tx.work.poles, mirrorID)
		}
	}
	delete(tx.work.poles, id)
}

func (tx *memTx) Graph(ctx context.Context, lineID int64) (*model.LineGraph, error) {
	return loadGraphFrom(tx.work, lineID)
}

func (tx *memTx) GetPole(ctx context.Context, id int64) (*model.Pole, error) {
	p, ok := tx.work.poles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (tx *memTx) CreatePole(ctx context.Context, p *model.Pole) error {
	if p.ID == 0 {
		p.ID = tx.store.id()
	}
	if p.MRID == "" {
		p.MRID = model.NewMRID()
	}
	tx.work.poles[p.ID] = *p
	return nil
}

func (tx *memTx) UpdatePole(ctx context.Context, p *model.Pole) error {
	if _, ok := tx.work.poles[p.ID]; !ok {
		return ErrNotFound
	}
	tx.work.poles[p.ID] = *p
	return nil
}

func (tx *memTx) DeletePole(ctx context.Context, id int64) error {
	if _, ok := tx.work.poles[id]; !ok {
		return ErrNotFound
	}
	tx.cascadePole(id)
	return nil
}

func (tx *memTx) SharedPresences(ctx context.Context, poleID int64) ([]model.Pole, error) {
	var out []model.Pole
	for _, p := range tx.work.poles {
		if p.SharedPoleID != nil && *p.SharedPoleID == poleID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memTx) NodesByPole(ctx context.Context, poleID int64) ([]model.ConnectivityNode, error) {
	var out []model.ConnectivityNode
	for _, n := range tx.work.nodes {
		if n.PoleID != nil && *n.PoleID == poleID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memTx) NodeForSubstation(ctx context.Context, substationID int64) (*model.ConnectivityNode, error) {
	for _, n := range tx.work.nodes {
		if n.SubstationID != nil && *n.SubstationID == substationID {
			node := n
			return &node, nil
		}
	}
	return nil, ErrNotFound
}

func (tx *memTx) CreateNode(ctx context.Context, n *model.ConnectivityNode) error {
	if n.ID == 0 {
		n.ID = tx.store.id()
	}
	if n.MRID == "" {
		n.MRID = model.NewMRID()
	}
	tx.work.nodes[n.ID] = *n
	return nil
}

func (tx *memTx) DeleteNode(ctx context.Context, id int64) error {
	if _, ok := tx.work.nodes[id]; !ok {
		return ErrNotFound
	}
	delete(tx.work.nodes, id)
	return nil
}

func (tx *memTx) CreateSpan(ctx context.Context, sp *model.Span) error {
	if sp.ID == 0 {
		sp.ID = tx.store.id()
	}
	if sp.MRID == "" {
		sp.MRID = model.NewMRID()
	}
	tx.work.spans[sp.ID] = *sp
	return nil
}

func (tx *memTx) UpdateSpan(ctx context.Context, sp *model.Span) error {
	if _, ok := tx.work.spans[sp.ID]; !ok {
		return ErrNotFound
	}
	tx.work.spans[sp.ID] = *sp
	return nil
}

func (tx *memTx) DeleteSpan(ctx context.Context, id int64) error {
	if _, ok := tx.work.spans[id]; !ok {
		return ErrNotFound
	}
	delete(tx.work.spans, id)
	return nil
}

func (tx *memTx) CreateSection(ctx context.Context, sec *model.LineSection) error {
	if sec.ID == 0 {
		sec.ID = tx.store.id()
	}
	if sec.MRID == "" {
		sec.MRID = model.NewMRID()
	}
	tx.work.sections[sec.ID] = *sec
	return nil
}

func (tx *memTx) UpdateSection(ctx context.Context, sec *model.LineSection) error {
	if _, ok := tx.work.sections[sec.ID]; !ok {
		return ErrNotFound
	}
	tx.work.sections[sec.ID] = *sec
	return nil
}

func (tx *memTx) DeleteSection(ctx context.Context, id int64) error {
	if _, ok := tx.work.sections[id]; !ok {
		return ErrNotFound
	}
	for spID, sp := range tx.work.spans {
		if sp.SectionID == id {
			delete(tx.work.spans, spID)
		}
	}
	delete(tx.work.sections, id)
	return nil
}

func (tx *memTx) CreateSegment(ctx context.Context, seg *model.ACLineSegment) error {
	if seg.ID == 0 {
		seg.ID = tx.store.id()
	}
	if seg.MRID == "" {
		seg.MRID = model.NewMRID()
	}
	tx.work.segments[seg.ID] = *seg
	tx.syncTerminals(seg)
	return nil
}

func (tx *memTx) UpdateSegment(ctx context.Context, seg *model.ACLineSegment) error {
	if _, ok := tx.work.segments[seg.ID]; !ok {
		return ErrNotFound
	}
	tx.work.segments[seg.ID] = *seg
	tx.syncTerminals(seg)
	return nil
}

// syncTerminals keeps the terminal rows of a segment aligned with its ends:
// sequence 1 mirrors from_node, sequence 2 mirrors to_node and exists only
// while the segment is closed.
func (tx *memTx) syncTerminals(seg *model.ACLineSegment) {
	var from, to *model.Terminal
	for id := range tx.work.terminals {
		term := tx.work.terminals[id]
		if term.SegmentID != seg.ID {
			continue
		}
		switch term.SequenceNumber {
		case 1:
			from = &term
		case 2:
			to = &term
		}
	}
	if from == nil {
		id := tx.store.id()
		tx.work.terminals[id] = model.Terminal{
			ID:             id,
			MRID:           model.NewMRID(),
			SegmentID:      seg.ID,
			NodeID:         seg.FromNodeID,
			SequenceNumber: 1,
		}
	} else if from.NodeID != seg.FromNodeID {
		from.NodeID = seg.FromNodeID
		tx.work.terminals[from.ID] = *from
	}
	switch {
	case seg.ToNodeID == nil && to != nil:
		delete(tx.work.terminals, to.ID)
	case seg.ToNodeID != nil && to == nil:
		id := tx.store.id()
		tx.work.terminals[id] = model.Terminal{
			ID:             id,
			MRID:           model.NewMRID(),
			SegmentID:      seg.ID,
			NodeID:         *seg.ToNodeID,
			SequenceNumber: 2,
		}
	case seg.ToNodeID != nil && to != nil && to.NodeID != *seg.ToNodeID:
		to.NodeID = *seg.ToNodeID
		tx.work.terminals[to.ID] = *to
	}
}

func (tx *memTx) DeleteSegment(ctx context.Context, id int64) error {
	if _, ok := tx.work.segments[id]; !ok {
		return ErrNotFound
	}
	tx.cascadeSegment(id)
	return nil
}

func (tx *memTx) GetSubstation(ctx context.Context, id int64) (*model.Substation, error) {
	sub, ok := tx.work.substations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &sub, nil
}

func (tx *memTx) AppendChange(ctx context.Context, c *model.Change) error {
	// Cursors consumed by a rolled-back transaction leave gaps, same as the
	// postgres sequence.
	tx.store.nextCursor++
	c.Cursor = tx.store.nextCursor
	c.RecordedAt = time.Now().UTC()
	tx.pending = append(tx.pending, *c)
	return nil
}
