package assembly

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lepm/internal/geo"
	"lepm/internal/model"
	"lepm/internal/repository/network"
)

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *network.MemoryStore) {
	t.Helper()
	store := network.NewMemory()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, Config{AllowJointSuspension: true}, log, opts...), store
}

func mustLine(t *testing.T, e *Engine, name string) *model.Line {
	t.Helper()
	line, err := e.CreateLine(context.Background(), name, 10)
	require.NoError(t, err)
	return line
}

func mustPole(t *testing.T, e *Engine, lineID int64, number string, x, y float64, wire model.ConductorSpec) *model.Pole {
	t.Helper()
	p, err := e.AddPole(context.Background(), lineID, PoleSpec{
		PoleNumber: number,
		X:          x,
		Y:          y,
		Conductor:  wire,
	})
	require.NoError(t, err)
	return p
}

var (
	ac70 = model.ConductorSpec{Type: "AC-70", Material: "aluminium", Section: 70}
	ac95 = model.ConductorSpec{Type: "AC-95", Material: "aluminium", Section: 95}
)

// Four poles along a diagonal near Minsk; X is longitude, Y latitude.
var testPoles = []struct {
	number string
	x, y   float64
}{
	{"P1", 27.56, 53.90},
	{"P2", 27.57, 53.91},
	{"P3", 27.58, 53.92},
	{"P4", 27.59, 53.93},
}

func buildLinearLine(t *testing.T, e *Engine, wireAt func(i int) model.ConductorSpec) (*model.Line, []*model.Pole) {
	t.Helper()
	line := mustLine(t, e, "L-10-01")
	poles := make([]*model.Pole, 0, len(testPoles))
	for i, tp := range testPoles {
		poles = append(poles, mustPole(t, e, line.ID, tp.number, tp.x, tp.y, wireAt(i)))
	}
	return line, poles
}

func uniform(w model.ConductorSpec) func(int) model.ConductorSpec {
	return func(int) model.ConductorSpec { return w }
}

// checkLineInvariants asserts the structural invariants every committed
// state must satisfy.
func checkLineInvariants(t *testing.T, g *model.LineGraph) {
	t.Helper()

	for i := 1; i < len(g.Poles); i++ {
		assert.Greater(t, g.Poles[i].SequenceNumber, g.Poles[i-1].SequenceNumber, "pole order")
	}

	open := 0
	for i, seg := range g.Segments {
		if i > 0 {
			assert.Greater(t, seg.SequenceNumber, g.Segments[i-1].SequenceNumber, "segment order")
		}
		if seg.ToNodeID == nil {
			open++
			assert.Equal(t, len(g.Segments)-1, i, "open segment must be last")
		}
	}
	assert.LessOrEqual(t, open, 1, "at most one open segment")

	for _, seg := range g.Segments {
		sections := g.SectionsOf(seg.ID)
		for i, sec := range sections {
			assert.Equal(t, i+1, sec.SequenceNumber, "section sequence in segment %s", seg.Name)
			spans := g.SpansOf(sec.ID)
			assert.NotEmpty(t, spans, "section %d of segment %s has no spans", sec.SequenceNumber, seg.Name)
			for j, sp := range spans {
				assert.Equal(t, j+1, sp.SequenceNumber, "span sequence")
				assert.True(t, sec.Conductor.SameGroup(sp.Conductor), "span conductor matches its section")
			}
		}
	}

	// Each span connects nodes of adjacent poles of this line.
	seqOf := map[int64]int{}
	for _, n := range g.Nodes {
		if n.PoleID == nil {
			continue
		}
		for _, p := range g.Poles {
			id := p.ID
			if p.SharedPoleID != nil {
				id = *p.SharedPoleID
			}
			if id == *n.PoleID {
				seqOf[n.ID] = p.SequenceNumber
			}
		}
	}
	for _, sp := range g.Spans {
		from, okF := seqOf[sp.FromNodeID]
		to, okT := seqOf[sp.ToNodeID]
		if okF && okT {
			assert.Less(t, from, to, "span direction follows pole order")
		}
	}
}

func checkLengthAggregation(t *testing.T, g *model.LineGraph) {
	t.Helper()
	spanTotal := 0.0
	for _, sp := range g.Spans {
		spanTotal += sp.LengthM
	}
	sectionTotal := 0.0
	for _, sec := range g.Sections {
		sectionTotal += sec.TotalLengthKM
	}
	segmentTotal := 0.0
	for _, seg := range g.Segments {
		segmentTotal += seg.LengthKM
	}
	assert.InDelta(t, spanTotal/1000, sectionTotal, 1e-9)
	assert.InDelta(t, sectionTotal, segmentTotal, 1e-9)
}

func TestAddPole_LinearLineUniformWire(t *testing.T) {
	e, _ := newTestEngine(t)
	line, _ := buildLinearLine(t, e, uniform(ac70))

	g, err := e.Graph(context.Background(), line.ID)
	require.NoError(t, err)

	require.Len(t, g.Segments, 1)
	require.Len(t, g.Sections, 1)
	require.Len(t, g.Spans, 3)
	for i, sp := range g.Spans {
		assert.Equal(t, i+1, sp.SequenceNumber)
	}

	want := 0.0
	for i := 1; i < len(testPoles); i++ {
		want += geo.Distance(testPoles[i-1].y, testPoles[i-1].x, testPoles[i].y, testPoles[i].x)
	}
	assert.InDelta(t, want/1000, g.Segments[0].LengthKM, 0.005)
	assert.True(t, g.Segments[0].Open())

	checkLineInvariants(t, g)
	checkLengthAggregation(t, g)
}

func TestAddPole_WireChangeStartsNewSection(t *testing.T) {
	e, _ := newTestEngine(t)
	// P3 carries AC-95, so the span departing from it opens a second section.
	line, _ := buildLinearLine(t, e, func(i int) model.ConductorSpec {
		if i == 2 {
			return ac95
		}
		return ac70
	})

	g, err := e.Graph(context.Background(), line.ID)
	require.NoError(t, err)

	require.Len(t, g.Segments, 1)
	require.Len(t, g.Sections, 2)

	secA := g.SectionsOf(g.Segments[0].ID)[0]
	secB := g.SectionsOf(g.Segments[0].ID)[1]
	assert.Equal(t, "AC-70", secA.Conductor.Type)
	assert.Equal(t, "AC-95", secB.Conductor.Type)
	assert.Len(t, g.SpansOf(secA.ID), 2)
	assert.Len(t, g.SpansOf(secB.ID), 1)
	assert.InDelta(t, secA.TotalLengthKM+secB.TotalLengthKM, g.Segments[0].LengthKM, 1e-9)

	checkLineInvariants(t, g)
}

func TestMarkPoleAsTap_SplitsOpenSegment(t *testing.T) {
	e, _ := newTestEngine(t)
	line, poles := buildLinearLine(t, e, uniform(ac70))

	require.NoError(t, e.MarkPoleAsTap(context.Background(), poles[2].ID))

	g, err := e.Graph(context.Background(), line.ID)
	require.NoError(t, err)
	require.Len(t, g.Segments, 2)

	p3cn := g.NodeForPole(poles[2].ID)
	require.NotNil(t, p3cn)

	first, second := g.Segments[0], g.Segments[1]
	require.NotNil(t, first.ToNodeID)
	assert.Equal(t, p3cn.ID, *first.ToNodeID)
	assert.Len(t, g.SegmentSpans(first.ID), 2)

	assert.Equal(t, p3cn.ID, second.FromNodeID)
	assert.Nil(t, second.ToNodeID)
	assert.Len(t, g.SegmentSpans(second.ID), 1)

	// The flag marks the pole, not the segment.
	assert.False(t, first.IsTap)
	assert.False(t, second.IsTap)
	assert.True(t, g.PoleByID(poles[2].ID).IsTapPole)

	checkLineInvariants(t, g)
	checkLengthAggregation(t, g)
}

func TestMarkPoleAsTap_Idempotent(t *testing.T) {
	e, _ := newTestEngine(t)
	line, poles := buildLinearLine(t, e, uniform(ac70))

	require.NoError(t, e.MarkPoleAsTap(context.Background(), poles[2].ID))
	before, err := e.Graph(context.Background(), line.ID)
	require.NoError(t, err)

	require.NoError(t, e.MarkPoleAsTap(context.Background(), poles[2].ID))
	after, err := e.Graph(context.Background(), line.ID)
	require.NoError(t, err)

	assert.Equal(t, len(before.Segments), len(after.Segments))
	assert.Equal(t, len(before.Spans), len(after.Spans))
}

func TestMarkPoleAsTap_FirstPoleConflicts(t *testing.T) {
	e, _ := newTestEngine(t)
	line := mustLine(t, e, "L-10-02")
	p1 := mustPole(t, e, line.ID, "P1", 27.56, 53.90, ac70)

	err := e.MarkPoleAsTap(context.Background(), p1.ID)
	assert.Equal(t, model.KindConflict, model.KindOf(err))
}

func TestMarkPoleAsTap_IncreasesSegmentsByOne(t *testing.T) {
	e, _ := newTestEngine(t)
	line, poles := buildLinearLine(t, e, uniform(ac70))

	before, err := e.Graph(context.Background(), line.ID)
	require.NoError(t, err)

	require.NoError(t, e.MarkPoleAsTap(context.Background(), poles[1].ID))

	after, err := e.Graph(context.Background(), line.ID)
	require.NoError(t, err)
	assert.Equal(t, len(before.Segments)+1, len(after.Segments))
	assert.Equal(t, len(before.Spans), len(after.Spans))
	checkLineInvariants(t, after)
}

func TestMarkPoleAsTap_LastPoleLeavesZeroSpanSuccessor(t *testing.T) {
	e, _ := newTestEngine(t)
	line, poles := buildLinearLine(t, e, uniform(ac70))

	require.NoError(t, e.MarkPoleAsTap(context.Background(), poles[3].ID))

	g, err := e.Graph(context.Background(), line.ID)
	require.NoError(t, err)
	require.Len(t, g.Segments, 2)

	succ := g.Segments[1]
	assert.Nil(t, succ.ToNodeID)
	assert.Empty(t, g.SegmentSpans(succ.ID))

	// The next pole lands in the successor.
	mustPole(t, e, line.ID, "P5", 27.60, 53.94, ac70)
	g, err = e.Graph(context.Background(), line.ID)
	require.NoError(t, err)
	require.Len(t, g.Segments, 2)
	assert.Len(t, g.SegmentSpans(g.Segments[1].ID), 1)
	checkLineInvariants(t, g)
}

func TestLinkLineToSubstation(t *testing.T) {
	e, store := newTestEngine(t)
	line := mustLine(t, e, "L-10-03")
	p1 := mustPole(t, e, line.ID, "P1", 27.56, 53.90, ac70)

	sub := &model.Substation{Name: "TP-117", DispatcherName: "TP-117 Minsk", X: 27.55, Y: 53.89}
	require.NoError(t, store.CreateSubstation(context.Background(), sub))

	seg, err := e.LinkLineToSubstation(context.Background(), line.ID, p1.ID, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, seg.SequenceNumber)
	require.NotNil(t, seg.ToNodeID)

	g, err := e.Graph(context.Background(), line.ID)
	require.NoError(t, err)
	require.Len(t, g.Segments, 1)
	// The link itself carries no sections or spans.
	assert.Empty(t, g.SectionsOf(g.Segments[0].ID))

	from := g.NodeByID(g.Segments[0].FromNodeID)
	require.NotNil(t, from)
	require.NotNil(t, from.SubstationID)
	assert.Equal(t, sub.ID, *from.SubstationID)
	assert.Equal(t, "TP-117 Minsk - P1", g.Segments[0].Name)

	// Extending the line opens segment #2 from P1.
	mustPole(t, e, line.ID, "P2", 27.57, 53.91, ac70)
	g, err = e.Graph(context.Background(), line.ID)
	require.NoError(t, err)
	require.Len(t, g.Segments, 2)
	p1cn := g.NodeForPole(p1.ID)
	require.NotNil(t, p1cn)
	assert.Equal(t, p1cn.ID, g.Segments[1].FromNodeID)
	assert.Len(t, g.SegmentSpans(g.Segments[1].ID), 1)
	checkLineInvariants(t, g)
}

func TestLinkLineToSubstation_DoubleLinkConflicts(t *testing.T) {
	e, store := newTestEngine(t)
	line := mustLine(t, e, "L-10-04")
	p1 := mustPole(t, e, line.ID, "P1", 27.56, 53.90, ac70)

	sub := &model.Substation{Name: "TP-1"}
	require.NoError(t, store.CreateSubstation(context.Background(), sub))
	other := &model.Substation{Name: "TP-2"}
	require.NoError(t, store.CreateSubstation(context.Background(), other))

	_, err := e.LinkLineToSubstation(context.Background(), line.ID, p1.ID, sub.ID)
	require.NoError(t, err)
	_, err = e.LinkLineToSubstation(context.Background(), line.ID, p1.ID, other.ID)
	assert.Equal(t, model.KindConflict, model.KindOf(err))
}

func TestAddPole_BranchClosesSideSegment(t *testing.T) {
	e, _ := newTestEngine(t)
	line := mustLine(t, e, "L-10-05")
	var poles []*model.Pole
	for i, tp := range testPoles {
		p, err := e.AddPole(context.Background(), line.ID, PoleSpec{
			PoleNumber:     tp.number,
			X:              tp.x,
			Y:              tp.y,
			Conductor:      ac70,
			SequenceNumber: (i + 1) * 10,
		})
		require.NoError(t, err)
		poles = append(poles, p)
	}

	// A pole sequenced between P2 and P3 departs from P2, which already has
	// an outgoing span: a branch.
	branch, err := e.AddPole(context.Background(), line.ID, PoleSpec{
		PoleNumber:     "P2a",
		X:              27.58,
		Y:              53.905,
		Conductor:      ac70,
		SequenceNumber: 25,
	})
	require.NoError(t, err)

	g, err := e.Graph(context.Background(), line.ID)
	require.NoError(t, err)
	require.Len(t, g.Spans, 4)

	p2cn := g.NodeForPole(poles[1].ID)
	require.NotNil(t, p2cn)
	assert.Len(t, g.SpansFrom(p2cn.ID), 2)

	branchCN := g.NodeForPole(branch.ID)
	require.NotNil(t, branchCN)
	var side *model.ACLineSegment
	for i := range g.Segments {
		if g.Segments[i].ToNodeID != nil && *g.Segments[i].ToNodeID == branchCN.ID {
			side = &g.Segments[i]
		}
	}
	require.NotNil(t, side, "branch segment closed at the branch pole")
	assert.Equal(t, p2cn.ID, side.FromNodeID)
	assert.True(t, side.IsTap)

	checkLineInvariants(t, g)
	checkLengthAggregation(t, g)
}

func TestAddPole_Validation(t *testing.T) {
	e, _ := newTestEngine(t)
	line := mustLine(t, e, "L-10-06")
	ctx := context.Background()

	_, err := e.AddPole(ctx, line.ID, PoleSpec{PoleNumber: "P1"})
	assert.Equal(t, model.KindInvalidArgument, model.KindOf(err), "missing coordinates")

	_, err = e.AddPole(ctx, line.ID, PoleSpec{PoleNumber: "P1", X: 27.56, Y: 53.90, PoleType: "floating"})
	assert.Equal(t, model.KindInvalidArgument, model.KindOf(err), "unknown pole type")

	_, err = e.AddPole(ctx, line.ID, PoleSpec{PoleNumber: "P1", X: 27.56, Y: 53.90, SequenceNumber: -1})
	assert.Equal(t, model.KindInvalidArgument, model.KindOf(err), "negative sequence")

	mustPole(t, e, line.ID, "P1", 27.56, 53.90, ac70)
	_, err = e.AddPole(ctx, line.ID, PoleSpec{PoleNumber: "P1bis", X: 27.56, Y: 53.90, SequenceNumber: 1})
	assert.Equal(t, model.KindConflict, model.KindOf(err), "occupied sequence")

	_, err = e.AddPole(ctx, 404, PoleSpec{PoleNumber: "P1", X: 27.56, Y: 53.90})
	assert.Equal(t, model.KindNotFound, model.KindOf(err), "unknown line")
}

func TestJointSuspension(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	l1 := mustLine(t, e, "L1")
	shared := mustPole(t, e, l1.ID, "P", 27.56, 53.90, ac70)
	mustPole(t, e, l1.ID, "P-next", 27.57, 53.91, ac70)

	l2 := mustLine(t, e, "L2")
	mustPole(t, e, l2.ID, "Q1", 27.55, 53.90, ac70)
	mirror, err := e.AddPole(ctx, l2.ID, PoleSpec{SharedPoleID: shared.ID})
	require.NoError(t, err)
	require.NotNil(t, mirror.SharedPoleID)
	assert.Equal(t, shared.ID, *mirror.SharedPoleID)
	assert.Equal(t, shared.X, mirror.X)

	g1, err := e.Graph(ctx, l1.ID)
	require.NoError(t, err)
	g2, err := e.Graph(ctx, l2.ID)
	require.NoError(t, err)

	// One CN per (pole, line); the mirror's node sits on the physical pole.
	n1 := g1.NodeForPole(shared.ID)
	n2 := g2.NodeForPole(shared.ID)
	require.NotNil(t, n1)
	require.NotNil(t, n2)
	assert.NotEqual(t, n1.ID, n2.ID)

	// No cross-line spans.
	for _, sp := range g2.Spans {
		assert.Equal(t, l2.ID, sp.LineID)
	}
	checkLineInvariants(t, g1)
	checkLineInvariants(t, g2)
}

func TestJointSuspension_Disabled(t *testing.T) {
	store := network.NewMemory()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := New(store, Config{}, log)
	ctx := context.Background()

	l1 := mustLine(t, e, "L1")
	shared := mustPole(t, e, l1.ID, "P", 27.56, 53.90, ac70)
	mustPole(t, e, l1.ID, "P2", 27.57, 53.91, ac70)

	l2 := mustLine(t, e, "L2")
	mustPole(t, e, l2.ID, "Q1", 27.55, 53.90, ac70)
	_, err := e.AddPole(ctx, l2.ID, PoleSpec{SharedPoleID: shared.ID})
	assert.Equal(t, model.KindInvalidArgument, model.KindOf(err))
}

func TestDeleteLine_PreservesJointlySuspendedPole(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()

	l1 := mustLine(t, e, "L1")
	shared := mustPole(t, e, l1.ID, "P", 27.56, 53.90, ac70)
	mustPole(t, e, l1.ID, "P2", 27.57, 53.91, ac70)

	l2 := mustLine(t, e, "L2")
	mustPole(t, e, l2.ID, "Q1", 27.55, 53.90, ac70)
	_, err := e.AddPole(ctx, l2.ID, PoleSpec{SharedPoleID: shared.ID})
	require.NoError(t, err)

	require.NoError(t, e.DeleteLine(ctx, l1.ID))

	_, err = store.GetLine(ctx, l1.ID)
	assert.ErrorIs(t, err, network.ErrNotFound)

	g2, err := e.Graph(ctx, l2.ID)
	require.NoError(t, err)
	// The physical pole survives, re-homed to L2, and L2's node on it still
	// anchors its span.
	p := g2.PoleByID(shared.ID)
	require.NotNil(t, p)
	assert.Equal(t, l2.ID, p.LineID)
	assert.Nil(t, p.SharedPoleID)
	require.Len(t, g2.Spans, 1)
	checkLineInvariants(t, g2)
}

func TestDeletePole_TapCascade(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	line, poles := buildLinearLine(t, e, uniform(ac70))
	require.NoError(t, e.MarkPoleAsTap(ctx, poles[2].ID))

	require.NoError(t, e.DeletePole(ctx, poles[2].ID))

	g, err := e.Graph(ctx, line.ID)
	require.NoError(t, err)

	assert.Nil(t, g.PoleByID(poles[2].ID))
	assert.Nil(t, g.NodeForPole(poles[2].ID))

	// Both spans touching P3 are gone; the successor segment went with its
	// from node, and segment #1 re-opened.
	require.Len(t, g.Segments, 1)
	assert.Nil(t, g.Segments[0].ToNodeID)
	require.Len(t, g.Spans, 1)

	// Sequence numbers are not compacted.
	assert.Equal(t, []int{1, 2, 4}, []int{
		g.Poles[0].SequenceNumber,
		g.Poles[1].SequenceNumber,
		g.Poles[2].SequenceNumber,
	})
	checkLineInvariants(t, g)
	checkLengthAggregation(t, g)
}

func TestDeletePole_AfterAddRestoresState(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	line, _ := buildLinearLine(t, e, uniform(ac70))

	before, err := e.Graph(ctx, line.ID)
	require.NoError(t, err)

	p5 := mustPole(t, e, line.ID, "P5", 27.60, 53.94, ac70)
	require.NoError(t, e.DeletePole(ctx, p5.ID))

	after, err := e.Graph(ctx, line.ID)
	require.NoError(t, err)

	var beforeMRIDs, afterMRIDs []string
	for _, p := range before.Poles {
		beforeMRIDs = append(beforeMRIDs, p.MRID)
	}
	for _, p := range after.Poles {
		afterMRIDs = append(afterMRIDs, p.MRID)
	}
	assert.Equal(t, beforeMRIDs, afterMRIDs)

	require.Len(t, after.Segments, len(before.Segments))
	assert.Equal(t, before.Segments[0].MRID, after.Segments[0].MRID)
	require.Len(t, after.Sections, len(before.Sections))
	assert.Equal(t, before.Sections[0].MRID, after.Sections[0].MRID)
	require.Len(t, after.Spans, len(before.Spans))
	assert.InDelta(t, before.Segments[0].LengthKM, after.Segments[0].LengthKM, 1e-9)
	checkLineInvariants(t, after)
}

func TestDeletePole_ReinsertInGap(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	line, poles := buildLinearLine(t, e, uniform(ac70))

	require.NoError(t, e.DeletePole(ctx, poles[1].ID))

	// The open segment kept P1 as its from node but its only span is now
	// P3-P4; a replacement pole in the gap re-attaches the chain at P1.
	repl, err := e.AddPole(ctx, line.ID, PoleSpec{
		PoleNumber:     "P2b",
		X:              testPoles[1].x,
		Y:              testPoles[1].y,
		Conductor:      ac70,
		SequenceNumber: 2,
	})
	require.NoError(t, err)

	g, err := e.Graph(ctx, line.ID)
	require.NoError(t, err)
	require.Len(t, g.Segments, 1)
	assert.Nil(t, g.Segments[0].ToNodeID)
	require.Len(t, g.Spans, 2)

	p1cn := g.NodeForPole(poles[0].ID)
	replCN := g.NodeForPole(repl.ID)
	require.NotNil(t, p1cn)
	require.NotNil(t, replCN)
	chain := g.SegmentSpans(g.Segments[0].ID)
	require.Len(t, chain, 2)
	assert.Equal(t, p1cn.ID, chain[0].FromNodeID, "new span heads the chain")
	assert.Equal(t, replCN.ID, chain[0].ToNodeID)

	checkLineInvariants(t, g)
	checkLengthAggregation(t, g)
}

func TestDeletePole_ReinsertInInteriorGap(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	line := mustLine(t, e, "L-10-09")

	five := []struct {
		number string
		x, y   float64
	}{
		{"P1", 27.56, 53.90},
		{"P2", 27.57, 53.91},
		{"P3", 27.58, 53.92},
		{"P4", 27.59, 53.93},
		{"P5", 27.60, 53.94},
	}
	var poles []*model.Pole
	for i, tp := range five {
		p, err := e.AddPole(ctx, line.ID, PoleSpec{
			PoleNumber:     tp.number,
			X:              tp.x,
			Y:              tp.y,
			Conductor:      ac70,
			SequenceNumber: (i + 1) * 10,
		})
		require.NoError(t, err)
		poles = append(poles, p)
	}

	require.NoError(t, e.DeletePole(ctx, poles[2].ID))

	repl, err := e.AddPole(ctx, line.ID, PoleSpec{
		PoleNumber:     "P3b",
		X:              27.58,
		Y:              53.915,
		Conductor:      ac70,
		SequenceNumber: 25,
	})
	require.NoError(t, err)

	g, err := e.Graph(ctx, line.ID)
	require.NoError(t, err)
	require.Len(t, g.Segments, 1)
	require.Len(t, g.Spans, 3)

	// The new span is spliced in at the break, not appended at the tip.
	p2cn := g.NodeForPole(poles[1].ID)
	replCN := g.NodeForPole(repl.ID)
	require.NotNil(t, p2cn)
	require.NotNil(t, replCN)
	chain := g.SegmentSpans(g.Segments[0].ID)
	require.Len(t, chain, 3)
	assert.Equal(t, p2cn.ID, chain[1].FromNodeID)
	assert.Equal(t, replCN.ID, chain[1].ToNodeID)

	checkLineInvariants(t, g)
	checkLengthAggregation(t, g)
}

func TestAddPole_TapPoleInGapSplitsChain(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	line, poles := buildLinearLine(t, e, uniform(ac70))

	require.NoError(t, e.DeletePole(ctx, poles[1].ID))

	repl, err := e.AddPole(ctx, line.ID, PoleSpec{
		PoleNumber:     "P2b",
		X:              testPoles[1].x,
		Y:              testPoles[1].y,
		PoleType:       "anchor",
		IsTap:          true,
		Conductor:      ac70,
		SequenceNumber: 2,
	})
	require.NoError(t, err)

	g, err := e.Graph(ctx, line.ID)
	require.NoError(t, err)
	require.Len(t, g.Segments, 2)

	replCN := g.NodeForPole(repl.ID)
	require.NotNil(t, replCN)
	require.NotNil(t, g.Segments[0].ToNodeID)
	assert.Equal(t, replCN.ID, *g.Segments[0].ToNodeID, "chain closed at the tap")
	assert.Equal(t, replCN.ID, g.Segments[1].FromNodeID)
	assert.Nil(t, g.Segments[1].ToNodeID)
	assert.Len(t, g.SegmentSpans(g.Segments[1].ID), 1)

	checkLineInvariants(t, g)
	checkLengthAggregation(t, g)
}

func TestAddPole_DifferentLinesCommute(t *testing.T) {
	build := func(firstL1 bool) (*model.LineGraph, *model.LineGraph) {
		e, _ := newTestEngine(t)
		ctx := context.Background()
		l1 := mustLine(t, e, "L1")
		l2 := mustLine(t, e, "L2")
		mustPole(t, e, l1.ID, "A1", 27.56, 53.90, ac70)
		mustPole(t, e, l2.ID, "B1", 27.40, 53.80, ac70)
		if firstL1 {
			mustPole(t, e, l1.ID, "A2", 27.57, 53.91, ac70)
			mustPole(t, e, l2.ID, "B2", 27.41, 53.81, ac95)
		} else {
			mustPole(t, e, l2.ID, "B2", 27.41, 53.81, ac95)
			mustPole(t, e, l1.ID, "A2", 27.57, 53.91, ac70)
		}
		g1, err := e.Graph(ctx, l1.ID)
		require.NoError(t, err)
		g2, err := e.Graph(ctx, l2.ID)
		require.NoError(t, err)
		return g1, g2
	}

	a1, a2 := build(true)
	b1, b2 := build(false)

	shape := func(g *model.LineGraph) [4]int {
		return [4]int{len(g.Poles), len(g.Segments), len(g.Sections), len(g.Spans)}
	}
	assert.Equal(t, shape(a1), shape(b1))
	assert.Equal(t, shape(a2), shape(b2))
	assert.InDelta(t, a1.Segments[0].LengthKM, b1.Segments[0].LengthKM, 1e-9)
	assert.InDelta(t, a2.Segments[0].LengthKM, b2.Segments[0].LengthKM, 1e-9)
}

func TestCommitListener_ReceivesChanges(t *testing.T) {
	var got []model.Change
	e, _ := newTestEngine(t, WithCommitListener(func(cs []model.Change) {
		got = append(got, cs...)
	}))
	line := mustLine(t, e, "L-10-07")
	mustPole(t, e, line.ID, "P1", 27.56, 53.90, ac70)
	mustPole(t, e, line.ID, "P2", 27.57, 53.91, ac70)

	require.NotEmpty(t, got)
	assert.Equal(t, "line", got[0].Entity)
	assert.Equal(t, model.OpCreate, got[0].Op)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].Cursor, got[i-1].Cursor, "cursors are monotonic")
	}

	created := map[string]int{}
	for _, c := range got {
		assert.Equal(t, line.MRID, c.LineMRID)
		if c.Op == model.OpCreate {
			created[c.Entity]++
		}
	}
	assert.Equal(t, 2, created["pole"])
	assert.Equal(t, 2, created["connectivity_node"])
	assert.Equal(t, 1, created["acline_segment"])
	assert.Equal(t, 1, created["line_section"])
	assert.Equal(t, 1, created["span"])
}

func TestWireSpec_FallsBackToDefault(t *testing.T) {
	e, _ := newTestEngine(t)
	line := mustLine(t, e, "L-10-08")
	mustPole(t, e, line.ID, "P1", 27.56, 53.90, model.ConductorSpec{})
	mustPole(t, e, line.ID, "P2", 27.57, 53.91, model.ConductorSpec{})

	g, err := e.Graph(context.Background(), line.ID)
	require.NoError(t, err)
	require.Len(t, g.Sections, 1)
	assert.Equal(t, "AC-70", g.Sections[0].Conductor.Type)
	assert.Equal(t, "aluminium", g.Sections[0].Conductor.Material)
	assert.Equal(t, 70, g.Sections[0].Conductor.Section)
}
