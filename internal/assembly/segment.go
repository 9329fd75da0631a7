package assembly

import "lepm/internal/model"

// Segment controller: opens and closes ACLineSegments at structural
// boundaries (substation attachment, tap pole, branching pole) and keeps the
// open-segment invariant per line.

func (m *mutation) segmentName(fromID int64, toID *int64) string {
	name := ""
	if from := m.g.NodeByID(fromID); from != nil {
		name = from.Name
	}
	if toID != nil {
		if to := m.g.NodeByID(*toID); to != nil {
			return name + " - " + to.Name
		}
	}
	return name
}

// newSegment opens a segment starting at the given node with the next
// sequence number on the line.
func (m *mutation) newSegment(from *model.ConnectivityNode, isTap bool) (*model.ACLineSegment, error) {
	seq := 1
	for i := range m.g.Segments {
		if m.g.Segments[i].SequenceNumber >= seq {
			seq = m.g.Segments[i].SequenceNumber + 1
		}
	}
	seg := &model.ACLineSegment{
		LineID:         m.g.Line.ID,
		SequenceNumber: seq,
		FromNodeID:     from.ID,
		IsTap:          isTap,
	}
	seg.Name = m.segmentName(seg.FromNodeID, nil)
	if err := m.addSegment(seg); err != nil {
		return nil, err
	}
	return m.segmentByID(seg.ID), nil
}

// insertSegmentBefore opens a segment at the given sequence position,
// renumbering segments at or past that position up by one.
func (m *mutation) insertSegmentBefore(seq int, from *model.ConnectivityNode, isTap bool) (*model.ACLineSegment, error) {
	if err := m.shiftSegmentsAfter(seq - 1); err != nil {
		return nil, err
	}
	seg := &model.ACLineSegment{
		LineID:         m.g.Line.ID,
		SequenceNumber: seq,
		FromNodeID:     from.ID,
		IsTap:          isTap,
	}
	seg.Name = m.segmentName(seg.FromNodeID, nil)
	if err := m.addSegment(seg); err != nil {
		return nil, err
	}
	return m.segmentByID(seg.ID), nil
}

// closeSegment terminates a segment into the given node.
func (m *mutation) closeSegment(seg *model.ACLineSegment, to *model.ConnectivityNode) error {
	updated := *seg
	toID := to.ID
	updated.ToNodeID = &toID
	updated.Name = m.segmentName(updated.FromNodeID, updated.ToNodeID)
	return m.saveSegment(&updated)
}

// reopenSegment clears the terminating node of a segment whose to-node is
// being deleted.
func (m *mutation) reopenSegment(seg *model.ACLineSegment) error {
	updated := *seg
	updated.ToNodeID = nil
	updated.Name = m.segmentName(updated.FromNodeID, nil)
	return m.saveSegment(&updated)
}

// chainContains reports whether the node occurs anywhere on the segment's
// span chain, including its tip.
func (m *mutation) chainContains(seg *model.ACLineSegment, nodeID int64) bool {
	return seg.FromNodeID == nodeID || m.chainTouches(seg, nodeID)
}

// chainTouches reports whether any span of the segment starts or ends at the
// node.
func (m *mutation) chainTouches(seg *model.ACLineSegment, nodeID int64) bool {
	for _, sp := range m.g.SegmentSpans(seg.ID) {
		if sp.FromNodeID == nodeID || sp.ToNodeID == nodeID {
			return true
		}
	}
	return false
}

// splitSegmentAt closes seg at the given node and moves the spans past the
// node into a freshly opened successor. Splitting at the tip produces a
// successor that carries zero spans until the next pole is added.
func (m *mutation) splitSegmentAt(seg *model.ACLineSegment, node *model.ConnectivityNode) (*model.ACLineSegment, error) {
	spans := m.g.SegmentSpans(seg.ID)
	idx := -1
	for i, sp := range spans {
		if sp.FromNodeID == node.ID {
			idx = i
			break
		}
	}
	if idx == -1 {
		// A node that only terminates a span is a chain boundary: the tip,
		// or the edge of a gap left by a deleted pole. Split right after it.
		for i := len(spans) - 1; i >= 0; i-- {
			if spans[i].ToNodeID == node.ID {
				idx = i + 1
				break
			}
		}
	}
	if idx == -1 {
		if m.g.SegmentTip(seg) != node.ID {
			return nil, model.Conflictf("node %s is not on segment %s", node.Name, seg.Name)
		}
		idx = len(spans)
	}
	head := make([]model.Span, 0, idx)
	tail := make([]model.Span, 0, len(spans)-idx)
	for i, sp := range spans {
		if i < idx {
			head = append(head, *sp)
		} else {
			tail = append(tail, *sp)
		}
	}

	// Make room in the ordering, then open the successor right after seg.
	segID := seg.ID
	inheritedTo := seg.ToNodeID
	if err := m.shiftSegmentsAfter(seg.SequenceNumber); err != nil {
		return nil, err
	}
	seg = m.segmentByID(segID)

	succ := &model.ACLineSegment{
		LineID:         m.g.Line.ID,
		SequenceNumber: seg.SequenceNumber + 1,
		FromNodeID:     node.ID,
		ToNodeID:       inheritedTo,
	}
	succ.Name = m.segmentName(succ.FromNodeID, succ.ToNodeID)
	if err := m.addSegment(succ); err != nil {
		return nil, err
	}
	succ = m.segmentByID(succ.ID)

	// Reassign the tail first so the head rebuild can drop emptied sections.
	if err := m.rebuildSegmentSpans(succ.ID, tail); err != nil {
		return nil, err
	}
	if err := m.rebuildSegmentSpans(segID, head); err != nil {
		return nil, err
	}
	if err := m.closeSegment(m.segmentByID(segID), node); err != nil {
		return nil, err
	}
	if err := m.recomputeLengths(segID); err != nil {
		return nil, err
	}
	if err := m.recomputeLengths(succ.ID); err != nil {
		return nil, err
	}
	return m.segmentByID(succ.ID), nil
}

// shiftSegmentsAfter renumbers segments with sequence_number > seq up by
// one, highest first.
func (m *mutation) shiftSegmentsAfter(seq int) error {
	var shift []model.ACLineSegment
	for i := range m.g.Segments {
		if m.g.Segments[i].SequenceNumber > seq {
			shift = append(shift, m.g.Segments[i])
		}
	}
	for i := len(shift) - 1; i >= 0; i-- {
		updated := shift[i]
		updated.SequenceNumber++
		if err := m.saveSegment(&updated); err != nil {
			return err
		}
	}
	return nil
}

// rebuildSegmentSpans regroups the given ordered spans into the segment's
// sections: consecutive runs sharing a conductor (type, material) pair form
// one section. Existing sections are reused positionally when their group
// matches, so unchanged prefixes keep their identities; leftovers are
// removed.
func (m *mutation) rebuildSegmentSpans(segID int64, spans []model.Span) error {
	old := m.g.SectionsOf(segID)
	oldCopies := make([]model.LineSection, len(old))
	for i, sec := range old {
		oldCopies[i] = *sec
	}

	type group struct {
		wire  model.ConductorSpec
		spans []model.Span
	}
	var groups []group
	for _, sp := range spans {
		if len(groups) > 0 && groups[len(groups)-1].wire.SameGroup(sp.Conductor) {
			groups[len(groups)-1].spans = append(groups[len(groups)-1].spans, sp)
			continue
		}
		groups = append(groups, group{wire: sp.Conductor, spans: []model.Span{sp}})
	}

	for i, grp := range groups {
		var sec model.LineSection
		if i < len(oldCopies) && oldCopies[i].Conductor.SameGroup(grp.wire) {
			sec = oldCopies[i]
			if sec.SequenceNumber != i+1 {
				sec.SequenceNumber = i + 1
				if err := m.saveSection(&sec); err != nil {
					return err
				}
			}
		} else if i < len(oldCopies) {
			sec = oldCopies[i]
			sec.SequenceNumber = i + 1
			sec.Conductor = grp.wire
			if err := m.saveSection(&sec); err != nil {
				return err
			}
		} else {
			sec = model.LineSection{
				SegmentID:      segID,
				SequenceNumber: i + 1,
				Conductor:      grp.wire,
			}
			if err := m.addSection(&sec); err != nil {
				return err
			}
		}
		for j, sp := range grp.spans {
			if sp.SectionID == sec.ID && sp.SequenceNumber == j+1 {
				continue
			}
			sp.SectionID = sec.ID
			sp.SequenceNumber = j + 1
			if err := m.saveSpan(&sp); err != nil {
				return err
			}
		}
	}
	for i := len(groups); i < len(oldCopies); i++ {
		if err := m.removeSection(oldCopies[i]); err != nil {
			return err
		}
	}
	return nil
}
