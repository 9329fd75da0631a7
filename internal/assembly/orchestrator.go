package assembly

import (
	"context"
	"errors"
	"sort"

	"lepm/internal/model"
	"lepm/internal/repository/network"
)

// PoleSpec is the input of AddPole. X is longitude, Y latitude.
// SequenceNumber zero means "append after the current last pole".
// SharedPoleID attaches the line to an existing pole of another line
// (joint suspension) instead of erecting a new one.
type PoleSpec struct {
	PoleNumber     string
	X              float64
	Y              float64
	PoleType       string
	IsTap          bool
	Conductor      model.ConductorSpec
	SequenceNumber int
	SharedPoleID   int64
}

// CreateLine creates an empty line.
func (e *Engine) CreateLine(ctx context.Context, name string, voltageKV float64) (*model.Line, error) {
	if name == "" {
		return nil, model.InvalidArgumentf("line name is required")
	}
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, model.Internalf(err, "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	line := &model.Line{Name: name, VoltageKV: voltageKV}
	if err := tx.CreateLine(ctx, line); err != nil {
		return nil, model.Internalf(err, "create line")
	}
	change := model.Change{LineID: line.ID, LineMRID: line.MRID, Entity: "line", MRID: line.MRID, Op: model.OpCreate}
	if err := tx.AppendChange(ctx, &change); err != nil {
		return nil, model.Internalf(err, "append change")
	}
	if err := tx.Commit(); err != nil {
		return nil, model.Internalf(err, "commit")
	}
	e.log.Info("line created", "line_id", line.ID, "name", line.Name)
	if e.onCommit != nil {
		e.onCommit([]model.Change{change})
	}
	return line, nil
}

// AddPole creates a pole on the line and, when a predecessor exists, the
// span to it, growing or opening segments as required.
func (e *Engine) AddPole(ctx context.Context, lineID int64, spec PoleSpec) (*model.Pole, error) {
	if spec.SharedPoleID == 0 && spec.X == 0 && spec.Y == 0 {
		return nil, model.InvalidArgumentf("pole coordinates are required")
	}
	if spec.SequenceNumber < 0 {
		return nil, model.InvalidArgumentf("sequence number must be positive")
	}
	poleType := spec.PoleType
	if poleType == "" {
		poleType = "intermediate"
	}
	if _, ok := model.PoleTypes[poleType]; !ok {
		return nil, model.InvalidArgumentf("unknown pole type %q", spec.PoleType)
	}

	var created model.Pole
	err := e.withLine(ctx, lineID, func(m *mutation) error {
		seq := spec.SequenceNumber
		if seq == 0 {
			for i := range m.g.Poles {
				if m.g.Poles[i].SequenceNumber >= seq {
					seq = m.g.Poles[i].SequenceNumber
				}
			}
			seq++
		} else {
			for i := range m.g.Poles {
				if m.g.Poles[i].SequenceNumber == seq {
					return model.Conflictf("line %s already has a pole at position %d", m.g.Line.Name, seq)
				}
			}
		}

		pole := &model.Pole{
			LineID:         lineID,
			PoleNumber:     spec.PoleNumber,
			SequenceNumber: seq,
			PoleType:       poleType,
			X:              spec.X,
			Y:              spec.Y,
			IsTapPole:      spec.IsTap,
			Conductor:      spec.Conductor,
		}
		if spec.SharedPoleID != 0 {
			phys, err := m.tx.GetPole(m.ctx, spec.SharedPoleID)
			if err != nil {
				if errors.Is(err, network.ErrNotFound) {
					return model.NotFoundf("pole %d does not exist", spec.SharedPoleID)
				}
				return model.Internalf(err, "load pole %d", spec.SharedPoleID)
			}
			shared := phys.ID
			pole.SharedPoleID = &shared
			pole.X = phys.X
			pole.Y = phys.Y
			if pole.PoleNumber == "" {
				pole.PoleNumber = phys.PoleNumber
			}
		}
		if err := m.addPole(pole); err != nil {
			return err
		}

		// A tap pole gets its node eagerly; for ordinary poles creation is
		// deferred until a span needs it.
		if pole.IsTapPole {
			if _, err := m.nodeForPole(pole); err != nil {
				return err
			}
		}

		var prev *model.Pole
		for i := range m.g.Poles {
			p := &m.g.Poles[i]
			if p.ID == pole.ID || p.SequenceNumber >= seq {
				continue
			}
			if prev == nil || p.SequenceNumber > prev.SequenceNumber {
				prev = p
			}
		}
		if prev == nil {
			// First pole of the line: no span, no segment yet.
			created = *pole
			return nil
		}
		prevCopy := *prev

		fromCN, err := m.nodeForPole(&prevCopy)
		if err != nil {
			return err
		}
		toCN, err := m.nodeForPole(pole)
		if err != nil {
			return err
		}
		if m.g.SpanBetween(fromCN.ID, toCN.ID) != nil {
			return model.Conflictf("span between poles %s and %s already exists", prevCopy.PoleNumber, pole.PoleNumber)
		}

		outgoing := len(m.g.SpansFrom(fromCN.ID))
		branch := outgoing >= 1

		attachAtGap := false
		seg := m.openSegmentWithTip(fromCN.ID)
		if seg == nil {
			open := m.g.OpenSegment()
			if open != nil && m.chainContains(open, fromCN.ID) {
				if branch {
					if m.chainTouches(open, fromCN.ID) {
						// Departing from the middle of the open chain is an
						// electrical break at the predecessor, like a tap.
						if _, err := m.splitSegmentAt(open, fromCN); err != nil {
							return err
						}
						open = m.g.OpenSegment()
					}
				} else {
					// No span departs the predecessor: it sits at the edge
					// of a gap left by a deleted pole, and the new span
					// re-attaches the chain there.
					seg = open
					attachAtGap = true
				}
			}
			if seg == nil && branch && open != nil {
				// The branch closes right away; slotting it in before the
				// open segment keeps the open one last.
				inserted, err := m.insertSegmentBefore(open.SequenceNumber, fromCN, true)
				if err != nil {
					return err
				}
				seg = inserted
			}
			if seg == nil {
				newSeg, err := m.newSegment(fromCN, branch)
				if err != nil {
					return err
				}
				seg = newSeg
			}
		}
		segID := seg.ID

		if attachAtGap {
			if err := m.insertSpanAtGap(segID, fromCN, toCN, &prevCopy, pole); err != nil {
				return err
			}
		} else {
			var lastSec *model.LineSection
			if sections := m.g.SectionsOf(segID); len(sections) > 0 {
				lastSec = sections[len(sections)-1]
			}
			wire := m.wireSpec(&prevCopy, lastSec)
			sec, err := m.placeSpanInSection(m.segmentByID(segID), wire)
			if err != nil {
				return err
			}
			if _, err := m.buildSpan(sec, fromCN, toCN, &prevCopy, pole, wire); err != nil {
				return err
			}
			if err := m.recomputeLengths(segID); err != nil {
				return err
			}
		}

		if branch {
			if seg = m.segmentByID(segID); !seg.IsTap {
				updated := *seg
				updated.IsTap = true
				if err := m.saveSegment(&updated); err != nil {
					return err
				}
			}
			if err := m.closeSegment(m.segmentByID(segID), toCN); err != nil {
				return err
			}
		} else if pole.IsTapPole {
			if attachAtGap {
				// The chain continues past the new pole; the tap boundary
				// splits it there instead of closing the whole segment.
				if _, err := m.splitSegmentAt(m.segmentByID(segID), toCN); err != nil {
					return err
				}
			} else {
				if err := m.closeSegment(m.segmentByID(segID), toCN); err != nil {
					return err
				}
				if _, err := m.newSegment(toCN, false); err != nil {
					return err
				}
			}
		}

		created = *pole
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("pole added", "line_id", lineID, "pole_id", created.ID, "sequence", created.SequenceNumber)
	return &created, nil
}

// openSegmentWithTip returns the open segment whose growing end is the given
// node, or nil.
func (m *mutation) openSegmentWithTip(nodeID int64) *model.ACLineSegment {
	open := m.g.OpenSegment()
	if open == nil {
		return nil
	}
	if m.g.SegmentTip(open) != nodeID {
		return nil
	}
	return open
}

// MarkPoleAsTap flags the pole as an electrical break: the open segment of
// its line is closed at the pole's node and a successor segment is opened.
// Marking an already tapped pole is a no-op.
func (e *Engine) MarkPoleAsTap(ctx context.Context, poleID int64) error {
	return e.withPole(ctx, poleID, func(m *mutation, pole *model.Pole) error {
		if pole.IsTapPole {
			return nil
		}
		hasPrev := false
		for i := range m.g.Poles {
			if m.g.Poles[i].ID != pole.ID && m.g.Poles[i].SequenceNumber < pole.SequenceNumber {
				hasPrev = true
				break
			}
		}
		if !hasPrev {
			return model.Conflictf("pole %s is the first pole of its line; a tap there has no segment to close", pole.PoleNumber)
		}

		updated := *pole
		updated.IsTapPole = true
		if err := m.savePole(&updated); err != nil {
			return err
		}
		cn, err := m.nodeForPole(&updated)
		if err != nil {
			return err
		}

		// Already a structural boundary: the flag is all there is to do.
		for i := range m.g.Segments {
			seg := &m.g.Segments[i]
			if seg.FromNodeID == cn.ID || (seg.ToNodeID != nil && *seg.ToNodeID == cn.ID) {
				return nil
			}
		}

		open := m.g.OpenSegment()
		if open == nil {
			return model.Conflictf("line %s has no open segment to close", m.g.Line.Name)
		}
		if !m.chainContains(open, cn.ID) {
			return model.Conflictf("pole %s is not on the open segment of line %s", pole.PoleNumber, m.g.Line.Name)
		}
		_, err = m.splitSegmentAt(open, cn)
		return err
	})
}

// withPole resolves the pole's line, locks it and runs fn with the pole as
// seen under the lock.
func (e *Engine) withPole(ctx context.Context, poleID int64, fn func(m *mutation, pole *model.Pole) error) error {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return model.Internalf(err, "begin transaction")
	}
	lookedUp, err := tx.GetPole(ctx, poleID)
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, network.ErrNotFound) {
			return model.NotFoundf("pole %d does not exist", poleID)
		}
		return model.Internalf(err, "load pole %d", poleID)
	}
	lineID := lookedUp.LineID
	_ = tx.Rollback()

	return e.withLine(ctx, lineID, func(m *mutation) error {
		pole := m.g.PoleByID(poleID)
		if pole == nil {
			return model.NotFoundf("pole %d does not exist", poleID)
		}
		poleCopy := *pole
		return fn(m, &poleCopy)
	})
}

// LinkLineToSubstation creates the zeroth segment of the line, from the
// substation's node to the first pole. The segment carries no sections; the
// first real span appears with the next pole.
func (e *Engine) LinkLineToSubstation(ctx context.Context, lineID, firstPoleID, substationID int64) (*model.ACLineSegment, error) {
	var linked model.ACLineSegment
	err := e.withLine(ctx, lineID, func(m *mutation) error {
		pole := m.g.PoleByID(firstPoleID)
		if pole == nil {
			return model.NotFoundf("pole %d does not exist on line %s", firstPoleID, m.g.Line.Name)
		}
		sub, err := m.tx.GetSubstation(m.ctx, substationID)
		if err != nil {
			if errors.Is(err, network.ErrNotFound) {
				return model.NotFoundf("substation %d does not exist", substationID)
			}
			return model.Internalf(err, "load substation %d", substationID)
		}
		for i := range m.g.Segments {
			from := m.g.NodeByID(m.g.Segments[i].FromNodeID)
			if from != nil && from.SubstationID != nil {
				return model.Conflictf("line %s already starts at substation %s", m.g.Line.Name, from.Name)
			}
		}

		subCN, err := m.nodeForSubstation(sub)
		if err != nil {
			return err
		}
		poleCopy := *pole
		poleCN, err := m.nodeForPole(&poleCopy)
		if err != nil {
			return err
		}

		// The link becomes the first segment; everything else moves down.
		if err := m.shiftSegmentsAfter(0); err != nil {
			return err
		}
		toID := poleCN.ID
		seg := &model.ACLineSegment{
			LineID:         lineID,
			SequenceNumber: 1,
			FromNodeID:     subCN.ID,
			ToNodeID:       &toID,
		}
		seg.Name = m.segmentName(seg.FromNodeID, seg.ToNodeID)
		if err := m.addSegment(seg); err != nil {
			return err
		}
		linked = *seg
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("line linked to substation", "line_id", lineID, "substation_id", substationID)
	return &linked, nil
}

// DeletePole removes the pole, every connectivity node it carries (across
// lines for joint suspension), every span touching those nodes, and every
// segment starting at them; segments ending at them are re-opened. Sequence
// numbers of surviving poles are not compacted.
func (e *Engine) DeletePole(ctx context.Context, poleID int64) error {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return model.Internalf(err, "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	pole, err := tx.GetPole(ctx, poleID)
	if err != nil {
		if errors.Is(err, network.ErrNotFound) {
			return model.NotFoundf("pole %d does not exist", poleID)
		}
		return model.Internalf(err, "load pole %d", poleID)
	}

	physID := pole.ID
	mirrorOnly := pole.SharedPoleID != nil
	if mirrorOnly {
		physID = *pole.SharedPoleID
	}

	allNodes, err := tx.NodesByPole(ctx, physID)
	if err != nil {
		return model.Internalf(err, "load nodes of pole %d", physID)
	}
	// Deleting a mirror presence detaches only its own line; deleting the
	// physical pole takes every line down with it.
	var doomed []model.ConnectivityNode
	for _, n := range allNodes {
		if mirrorOnly && (n.LineID == nil || *n.LineID != pole.LineID) {
			continue
		}
		doomed = append(doomed, n)
	}
	var mirrors []model.Pole
	if !mirrorOnly {
		if mirrors, err = tx.SharedPresences(ctx, physID); err != nil {
			return model.Internalf(err, "load shared presences of pole %d", physID)
		}
	}

	lineSet := map[int64]struct{}{pole.LineID: {}}
	for _, n := range doomed {
		if n.LineID != nil {
			lineSet[*n.LineID] = struct{}{}
		}
	}
	for _, mp := range mirrors {
		lineSet[mp.LineID] = struct{}{}
	}
	lineIDs := make([]int64, 0, len(lineSet))
	for id := range lineSet {
		lineIDs = append(lineIDs, id)
	}
	sort.Slice(lineIDs, func(i, j int) bool { return lineIDs[i] < lineIDs[j] })

	doomedNodeIDs := map[int64]struct{}{}
	for _, n := range doomed {
		doomedNodeIDs[n.ID] = struct{}{}
	}

	var allChanges []model.Change
	for _, lid := range lineIDs {
		if _, err := tx.LockLine(ctx, lid); err != nil {
			if errors.Is(err, network.ErrNotFound) {
				continue
			}
			return model.Internalf(err, "lock line %d", lid)
		}
		g, err := tx.Graph(ctx, lid)
		if err != nil {
			return model.Internalf(err, "load line %d", lid)
		}
		m := &mutation{e: e, ctx: ctx, tx: tx, g: g}
		if err := m.detachNodes(doomedNodeIDs); err != nil {
			return err
		}
		// Drop this line's presence rows of the pole.
		for i := len(m.g.Poles) - 1; i >= 0; i-- {
			p := m.g.Poles[i]
			if p.ID == pole.ID || (p.SharedPoleID != nil && *p.SharedPoleID == physID && !mirrorOnly) {
				if err := m.removePole(p); err != nil {
					return err
				}
			}
		}
		allChanges = append(allChanges, m.changes...)
	}

	if err := tx.Commit(); err != nil {
		return model.Internalf(err, "commit")
	}
	e.log.Info("pole deleted", "pole_id", poleID, "lines", len(lineIDs))
	if e.onCommit != nil && len(allChanges) > 0 {
		e.onCommit(allChanges)
	}
	return nil
}

// detachNodes removes the given nodes from the line: spans touching them,
// segments starting at them; segments ending at them are re-opened. Touched
// segments are then regrouped and re-aggregated.
func (m *mutation) detachNodes(nodeIDs map[int64]struct{}) error {
	var goneSpans []model.Span
	for i := range m.g.Spans {
		sp := m.g.Spans[i]
		_, from := nodeIDs[sp.FromNodeID]
		_, to := nodeIDs[sp.ToNodeID]
		if from || to {
			goneSpans = append(goneSpans, sp)
		}
	}
	touched := map[int64]struct{}{}
	for _, sp := range goneSpans {
		for i := range m.g.Sections {
			if m.g.Sections[i].ID == sp.SectionID {
				touched[m.g.Sections[i].SegmentID] = struct{}{}
			}
		}
		if err := m.removeSpan(sp); err != nil {
			return err
		}
	}

	var segs []model.ACLineSegment
	for i := range m.g.Segments {
		segs = append(segs, m.g.Segments[i])
	}
	for _, seg := range segs {
		if _, gone := nodeIDs[seg.FromNodeID]; gone {
			delete(touched, seg.ID)
			if err := m.removeSegment(seg); err != nil {
				return err
			}
			continue
		}
		if seg.ToNodeID != nil {
			if _, gone := nodeIDs[*seg.ToNodeID]; gone {
				if err := m.reopenSegment(m.segmentByID(seg.ID)); err != nil {
					return err
				}
			}
		}
	}
	for segID := range touched {
		seg := m.segmentByID(segID)
		if seg == nil {
			continue
		}
		var survivors []model.Span
		for _, sp := range m.g.SegmentSpans(segID) {
			survivors = append(survivors, *sp)
		}
		if err := m.rebuildSegmentSpans(segID, survivors); err != nil {
			return err
		}
		if err := m.recomputeLengths(segID); err != nil {
			return err
		}
	}

	for i := len(m.g.Nodes) - 1; i >= 0; i-- {
		n := m.g.Nodes[i]
		if _, gone := nodeIDs[n.ID]; gone {
			if err := m.removeNode(n); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *mutation) removePole(p model.Pole) error {
	if err := m.tx.DeletePole(m.ctx, p.ID); err != nil && !errors.Is(err, network.ErrNotFound) {
		return model.Internalf(err, "delete pole %d", p.ID)
	}
	for i := range m.g.Poles {
		if m.g.Poles[i].ID == p.ID {
			m.g.Poles = append(m.g.Poles[:i], m.g.Poles[i+1:]...)
			break
		}
	}
	return m.record("pole", p.MRID, model.OpDelete)
}

// DeleteLine removes the line and everything it owns. A pole also carrying
// joint-suspension nodes of another line survives: it is re-homed to that
// line, replacing the mirror presence that referenced it.
func (e *Engine) DeleteLine(ctx context.Context, lineID int64) error {
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

	// Re-home physical poles that other lines hang on before the cascade
	// can reach them.
	rehomedIDs := map[int64]struct{}{}
	for i := range g.Poles {
		p := g.Poles[i]
		if p.SharedPoleID != nil {
			continue
		}
		foreign, err := tx.NodesByPole(ctx, p.ID)
		if err != nil {
			return model.Internalf(err, "load nodes of pole %d", p.ID)
		}
		var keepFor *model.ConnectivityNode
		for j := range foreign {
			n := foreign[j]
			if n.LineID != nil && *n.LineID != lineID {
				if keepFor == nil || *n.LineID < *keepFor.LineID {
					keepFor = &foreign[j]
				}
			}
		}
		if keepFor == nil {
			continue
		}
		adopting, err := tx.LockLine(ctx, *keepFor.LineID)
		if err != nil {
			if errors.Is(err, network.ErrNotFound) {
				continue
			}
			return model.Internalf(err, "lock line %d", *keepFor.LineID)
		}
		rehomed := p
		rehomed.LineID = *keepFor.LineID
		rehomed.IsTapPole = false
		// Take over the mirror presence's position when there is one.
		mirrors, err := tx.SharedPresences(ctx, p.ID)
		if err != nil {
			return model.Internalf(err, "load shared presences of pole %d", p.ID)
		}
		for _, mp := range mirrors {
			if mp.LineID != rehomed.LineID {
				continue
			}
			rehomed.SequenceNumber = mp.SequenceNumber
			if err := tx.DeletePole(ctx, mp.ID); err != nil {
				return model.Internalf(err, "delete mirror pole %d", mp.ID)
			}
			if err := m.recordFor(adopting, "pole", mp.MRID, model.OpDelete); err != nil {
				return err
			}
			break
		}
		if err := tx.UpdatePole(ctx, &rehomed); err != nil {
			return model.Internalf(err, "re-home pole %d", p.ID)
		}
		rehomedIDs[rehomed.ID] = struct{}{}
		// The update belongs to the adopting line's change stream.
		if err := m.recordFor(adopting, "pole", rehomed.MRID, model.OpUpdate); err != nil {
			return err
		}
	}

	// Record what the cascade is about to remove.
	for _, sp := range g.Spans {
		if err := m.record("span", sp.MRID, model.OpDelete); err != nil {
			return err
		}
	}
	for _, sec := range g.Sections {
		if err := m.record("line_section", sec.MRID, model.OpDelete); err != nil {
			return err
		}
	}
	for _, seg := range g.Segments {
		if err := m.record("acline_segment", seg.MRID, model.OpDelete); err != nil {
			return err
		}
	}
	for _, n := range g.Nodes {
		if n.LineID != nil && *n.LineID == lineID {
			if err := m.record("connectivity_node", n.MRID, model.OpDelete); err != nil {
				return err
			}
		}
	}
	for _, p := range g.Poles {
		if _, kept := rehomedIDs[p.ID]; kept {
			continue
		}
		if err := m.record("pole", p.MRID, model.OpDelete); err != nil {
			return err
		}
	}
	if err := m.record("line", g.Line.MRID, model.OpDelete); err != nil {
		return err
	}

	if err := tx.DeleteLine(ctx, lineID); err != nil {
		return model.Internalf(err, "delete line %d", lineID)
	}
	if err := tx.Commit(); err != nil {
		return model.Internalf(err, "commit")
	}
	e.log.Info("line deleted", "line_id", lineID)
	if e.onCommit != nil && len(m.changes) > 0 {
		e.onCommit(m.changes)
	}
	return nil
}
