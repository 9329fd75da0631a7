// Package model holds the entity records of the power-line network model.
// Every entity carries an immutable mRID (canonical UUID-4) alongside its
// integer surrogate key; mRIDs are the identifiers exposed to CIM consumers.
package model

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// NewMRID returns a fresh canonical 36-character UUID-4.
func NewMRID() string {
	return uuid.NewString()
}

// ConductorSpec is the wire specification triple carried by poles, spans and
// line sections. A zero field means "not specified".
type ConductorSpec struct {
	Type     string `json:"type"`
	Material string `json:"material"`
	Section  int    `json:"section"`
}

// Complete reports whether all three fields are set.
func (c ConductorSpec) Complete() bool {
	return c.Type != "" && c.Material != "" && c.Section > 0
}

// SameGroup reports whether two specs fall into the same line section.
// Grouping is by (type, material); the section rides along as an attribute.
func (c ConductorSpec) SameGroup(o ConductorSpec) bool {
	return c.Type == o.Type && c.Material == o.Material
}

// Merge fills unset fields of c from the fallback spec.
func (c ConductorSpec) Merge(fallback ConductorSpec) ConductorSpec {
	if c.Type == "" {
		c.Type = fallback.Type
	}
	if c.Material == "" {
		c.Material = fallback.Material
	}
	if c.Section <= 0 {
		c.Section = fallback.Section
	}
	return c
}

// Line is the root container: a named power line with a nominal voltage.
type Line struct {
	ID        int64   `json:"id"`
	MRID      string  `json:"mrid"`
	Name      string  `json:"name"`
	VoltageKV float64 `json:"voltage_kv"`
}

// Substation is an external collaborator; the core only terminates segments
// into connectivity nodes it owns.
type Substation struct {
	ID             int64   `json:"id"`
	MRID           string  `json:"mrid"`
	Name           string  `json:"name"`
	DispatcherName string  `json:"dispatcher_name"`
	X              float64 `json:"x_position"`
	Y              float64 `json:"y_position"`
}

// Display returns the dispatcher name used in segment names, falling back to
// the substation name.
func (s *Substation) Display() string {
	if s.DispatcherName != "" {
		return s.DispatcherName
	}
	return s.Name
}

// Pole is a physical tower. X is longitude, Y is latitude; that convention
// holds for every persisted coordinate in the model.
//
// SharedPoleID is set on the per-line presence of a jointly suspended pole:
// the row carries the line's sequencing while the connectivity node lives on
// the physical pole it references.
type Pole struct {
	ID             int64         `json:"id"`
	MRID           string        `json:"mrid"`
	LineID         int64         `json:"line_id"`
	PoleNumber     string        `json:"pole_number"`
	SequenceNumber int           `json:"sequence_number"`
	PoleType       string        `json:"pole_type"`
	X              float64       `json:"x_position"`
	Y              float64       `json:"y_position"`
	IsTapPole      bool          `json:"is_tap_pole"`
	Conductor      ConductorSpec `json:"conductor"`
	SharedPoleID   *int64        `json:"shared_pole_id,omitempty"`
}

// ConnectivityNode is an electrical junction attached to a (pole, line) pair,
// or to a substation when PoleID is nil.
type ConnectivityNode struct {
	ID           int64   `json:"id"`
	MRID         string  `json:"mrid"`
	Name         string  `json:"name"`
	LineID       *int64  `json:"line_id,omitempty"`
	PoleID       *int64  `json:"pole_id,omitempty"`
	SubstationID *int64  `json:"substation_id,omitempty"`
	X            float64 `json:"x_position"`
	Y            float64 `json:"y_position"`
}

// Span is a wire run between the connectivity nodes of two adjacent poles.
// LengthM is metres.
type Span struct {
	ID             int64         `json:"id"`
	MRID           string        `json:"mrid"`
	LineID         int64         `json:"line_id"`
	SectionID      int64         `json:"section_id"`
	FromNodeID     int64         `json:"from_node_id"`
	ToNodeID       int64         `json:"to_node_id"`
	SequenceNumber int           `json:"sequence_number"`
	LengthM        float64       `json:"length_m"`
	Conductor      ConductorSpec `json:"conductor"`
}

// LineSection is an ordered, non-empty run of spans sharing a conductor
// (type, material) pair. TotalLengthKM is kilometres.
type LineSection struct {
	ID             int64         `json:"id"`
	MRID           string        `json:"mrid"`
	SegmentID      int64         `json:"segment_id"`
	SequenceNumber int           `json:"sequence_number"`
	Conductor      ConductorSpec `json:"conductor"`
	TotalLengthKM  float64       `json:"total_length_km"`
}

// ACLineSegment is an ordered run of line sections bounded by structural
// points. ToNodeID is nil while the segment is open. IsTap is informational
// only; the authoritative structural signal is Pole.IsTapPole.
type ACLineSegment struct {
	ID             int64   `json:"id"`
	MRID           string  `json:"mrid"`
	LineID         int64   `json:"line_id"`
	SequenceNumber int     `json:"sequence_number"`
	Name           string  `json:"name"`
	FromNodeID     int64   `json:"from_node_id"`
	ToNodeID       *int64  `json:"to_node_id,omitempty"`
	LengthKM       float64 `json:"length_km"`
	IsTap          bool    `json:"is_tap"`
}

// Open reports whether the segment has no terminating node yet.
func (s *ACLineSegment) Open() bool { return s.ToNodeID == nil }

// Terminal binds an ACLineSegment end to a connectivity node.
// SequenceNumber 1 is the from end, 2 the to end. Terminals are maintained
// by the persistence adapter, not by the assembly engine.
type Terminal struct {
	ID             int64  `json:"id"`
	MRID           string `json:"mrid"`
	SegmentID      int64  `json:"segment_id"`
	NodeID         int64  `json:"node_id"`
	SequenceNumber int    `json:"sequence_number"`
}

// ChangeOp is the kind of mutation recorded in the change feed.
type ChangeOp string

const (
	OpCreate ChangeOp = "create"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// Change is one committed mutation, addressable by a monotonically increasing
// cursor. Mobile clients pull everything past their last seen cursor.
type Change struct {
	Cursor     int64     `json:"cursor"`
	LineID     int64     `json:"line_id"`
	LineMRID   string    `json:"line_mrid"`
	Entity     string    `json:"entity"`
	MRID       string    `json:"mrid"`
	Op         ChangeOp  `json:"op"`
	RecordedAt time.Time `json:"recorded_at"`
}

// LineGraph is the fully populated read model of one line: poles in sequence
// order, segments/sections/spans in their respective orders, and the
// connectivity node graph underneath.
type LineGraph struct {
	Line      Line               `json:"line"`
	Poles     []Pole             `json:"poles"`
	Nodes     []ConnectivityNode `json:"nodes"`
	Segments  []ACLineSegment    `json:"segments"`
	Sections  []LineSection      `json:"sections"`
	Spans     []Span             `json:"spans"`
	Terminals []Terminal         `json:"terminals"`
}

// Sort orders the graph slices canonically: poles and segments by sequence
// number, sections by (segment, sequence), spans by (section, sequence).
func (g *LineGraph) Sort() {
	sort.Slice(g.Poles, func(i, j int) bool {
		return g.Poles[i].SequenceNumber < g.Poles[j].SequenceNumber
	})
	sort.Slice(g.Segments, func(i, j int) bool {
		return g.Segments[i].SequenceNumber < g.Segments[j].SequenceNumber
	})
	sort.Slice(g.Sections, func(i, j int) bool {
		if g.Sections[i].SegmentID != g.Sections[j].SegmentID {
			return g.Sections[i].SegmentID < g.Sections[j].SegmentID
		}
		return g.Sections[i].SequenceNumber < g.Sections[j].SequenceNumber
	})
	sort.Slice(g.Spans, func(i, j int) bool {
		if g.Spans[i].SectionID != g.Spans[j].SectionID {
			return g.Spans[i].SectionID < g.Spans[j].SectionID
		}
		return g.Spans[i].SequenceNumber < g.Spans[j].SequenceNumber
	})
}

// NodeByID returns the node with the given id, or nil.
func (g *LineGraph) NodeByID(id int64) *ConnectivityNode {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

// PoleByID returns the pole with the given id, or nil.
func (g *LineGraph) PoleByID(id int64) *Pole {
	for i := range g.Poles {
		if g.Poles[i].ID == id {
			return &g.Poles[i]
		}
	}
	return nil
}

// NodeForPole returns the line's connectivity node attached to the given
// physical pole id, or nil.
func (g *LineGraph) NodeForPole(poleID int64) *ConnectivityNode {
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.PoleID != nil && *n.PoleID == poleID && n.LineID != nil && *n.LineID == g.Line.ID {
			return n
		}
	}
	return nil
}

// OpenSegment returns the segment with to_node unset and the highest
// sequence number, or nil when every segment is closed.
func (g *LineGraph) OpenSegment() *ACLineSegment {
	var open *ACLineSegment
	for i := range g.Segments {
		s := &g.Segments[i]
		if s.Open() && (open == nil || s.SequenceNumber > open.SequenceNumber) {
			open = s
		}
	}
	return open
}

// SectionsOf returns the sections of a segment in sequence order.
func (g *LineGraph) SectionsOf(segmentID int64) []*LineSection {
	var out []*LineSection
	for i := range g.Sections {
		if g.Sections[i].SegmentID == segmentID {
			out = append(out, &g.Sections[i])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out
}

// SpansOf returns the spans of a section in sequence order.
func (g *LineGraph) SpansOf(sectionID int64) []*Span {
	var out []*Span
	for i := range g.Spans {
		if g.Spans[i].SectionID == sectionID {
			out = append(out, &g.Spans[i])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out
}

// SegmentSpans returns every span of a segment in (section, span) order.
func (g *LineGraph) SegmentSpans(segmentID int64) []*Span {
	var out []*Span
	for _, sec := range g.SectionsOf(segmentID) {
		out = append(out, g.SpansOf(sec.ID)...)
	}
	return out
}

// SpansFrom returns the spans departing from the given node.
func (g *LineGraph) SpansFrom(nodeID int64) []*Span {
	var out []*Span
	for i := range g.Spans {
		if g.Spans[i].FromNodeID == nodeID {
			out = append(out, &g.Spans[i])
		}
	}
	return out
}

// SpanBetween returns the span connecting the two nodes in either direction,
// or nil.
func (g *LineGraph) SpanBetween(a, b int64) *Span {
	for i := range g.Spans {
		s := &g.Spans[i]
		if (s.FromNodeID == a && s.ToNodeID == b) || (s.FromNodeID == b && s.ToNodeID == a) {
			return s
		}
	}
	return nil
}

// SegmentTip returns the node id at the growing end of a segment: the to
// node of its last span, or the from node when the segment carries no spans.
func (g *LineGraph) SegmentTip(seg *ACLineSegment) int64 {
	spans := g.SegmentSpans(seg.ID)
	if len(spans) == 0 {
		return seg.FromNodeID
	}
	return spans[len(spans)-1].ToNodeID
}

// PoleTypes are the recognised pole_type values.
var PoleTypes = map[string]struct{}{
	"intermediate":  {},
	"anchor":        {},
	"corner":        {},
	"end":           {},
	"transposition": {},
}
