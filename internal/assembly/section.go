package assembly

import "lepm/internal/model"

// Section grouper: consecutive spans with the same conductor (type, material)
// share a line section; an attribute change starts a new one.

// placeSpanInSection returns the section the next span of a segment belongs
// to: the segment's last section when the wire spec matches, otherwise a
// fresh section appended after it.
func (m *mutation) placeSpanInSection(seg *model.ACLineSegment, wire model.ConductorSpec) (*model.LineSection, error) {
	sections := m.g.SectionsOf(seg.ID)
	if len(sections) > 0 {
		last := sections[len(sections)-1]
		if last.Conductor.SameGroup(wire) {
			return last, nil
		}
	}
	seq := 1
	if len(sections) > 0 {
		seq = sections[len(sections)-1].SequenceNumber + 1
	}
	sec := &model.LineSection{
		SegmentID:      seg.ID,
		SequenceNumber: seq,
		Conductor:      wire,
	}
	if err := m.addSection(sec); err != nil {
		return nil, err
	}
	// addSection appended a copy; hand back the pointer into the graph.
	for i := range m.g.Sections {
		if m.g.Sections[i].ID == sec.ID {
			return &m.g.Sections[i], nil
		}
	}
	return sec, nil
}

// recomputeLengths re-aggregates section totals (km) and the segment length
// from the span lengths (m), persisting only what changed.
func (m *mutation) recomputeLengths(segID int64) error {
	seg := m.segmentByID(segID)
	if seg == nil {
		return nil
	}
	total := 0.0
	for _, sec := range m.g.SectionsOf(segID) {
		sum := 0.0
		for _, sp := range m.g.SpansOf(sec.ID) {
			sum += sp.LengthM
		}
		km := sum / 1000
		if sec.TotalLengthKM != km {
			updated := *sec
			updated.TotalLengthKM = km
			if err := m.saveSection(&updated); err != nil {
				return err
			}
		}
		total += km
	}
	if seg.LengthKM != total {
		updated := *seg
		updated.LengthKM = total
		return m.saveSegment(&updated)
	}
	return nil
}

func (m *mutation) sectionByID(id int64) *model.LineSection {
	for i := range m.g.Sections {
		if m.g.Sections[i].ID == id {
			return &m.g.Sections[i]
		}
	}
	return nil
}

func (m *mutation) segmentByID(id int64) *model.ACLineSegment {
	for i := range m.g.Segments {
		if m.g.Segments[i].ID == id {
			return &m.g.Segments[i]
		}
	}
	return nil
}
