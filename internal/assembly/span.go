package assembly

import (
	"lepm/internal/geo"
	"lepm/internal/model"
)

// Span builder: one span between the connectivity nodes of two adjacent
// poles, with haversine length and the next sequence number in its section.

// wireSpec resolves the conductor triple for the span departing from a pole:
// the pole's own values, then the current section's, then the configured
// default.
func (m *mutation) wireSpec(pole *model.Pole, lastSection *model.LineSection) model.ConductorSpec {
	w := pole.Conductor
	if !w.Complete() && lastSection != nil {
		w = w.Merge(lastSection.Conductor)
	}
	return w.Merge(m.e.cfg.DefaultConductor)
}

// insertSpanAtGap creates the span prev->next inside a segment whose chain
// is broken at prev's node (a pole deletion removed the spans around it) and
// splices it in at the break, regrouping sections around the new position.
func (m *mutation) insertSpanAtGap(segID int64, from, to *model.ConnectivityNode, prev, next *model.Pole) error {
	chain := m.g.SegmentSpans(segID)
	ordered := make([]model.Span, len(chain))
	for i, sp := range chain {
		ordered[i] = *sp
	}

	idx := 0
	for i := len(ordered) - 1; i >= 0; i-- {
		if ordered[i].ToNodeID == from.ID {
			idx = i + 1
			break
		}
	}

	var sec *model.LineSection
	if idx > 0 {
		sec = m.sectionByID(ordered[idx-1].SectionID)
	} else if sections := m.g.SectionsOf(segID); len(sections) > 0 {
		sec = sections[0]
	}
	if sec == nil {
		return model.Internalf(nil, "segment %d has spans but no sections", segID)
	}

	wire := m.wireSpec(prev, sec)
	sp, err := m.buildSpan(sec, from, to, prev, next, wire)
	if err != nil {
		return err
	}
	ordered = append(ordered, model.Span{})
	copy(ordered[idx+1:], ordered[idx:])
	ordered[idx] = *sp

	if err := m.rebuildSegmentSpans(segID, ordered); err != nil {
		return err
	}
	return m.recomputeLengths(segID)
}

// buildSpan creates the span prev->next inside the given section.
func (m *mutation) buildSpan(sec *model.LineSection, from, to *model.ConnectivityNode, prev, next *model.Pole, wire model.ConductorSpec) (*model.Span, error) {
	seq := 1
	for _, sp := range m.g.SpansOf(sec.ID) {
		if sp.SequenceNumber >= seq {
			seq = sp.SequenceNumber + 1
		}
	}
	sp := &model.Span{
		LineID:         m.g.Line.ID,
		SectionID:      sec.ID,
		FromNodeID:     from.ID,
		ToNodeID:       to.ID,
		SequenceNumber: seq,
		LengthM:        geo.DistanceR(m.e.cfg.EarthRadiusM, prev.Y, prev.X, next.Y, next.X),
		Conductor:      wire,
	}
	if err := m.addSpan(sp); err != nil {
		return nil, err
	}
	return sp, nil
}
