package network

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lepm/internal/assembly"
	"lepm/internal/model"
	"lepm/internal/repository/artifact"
	netrepo "lepm/internal/repository/network"
)

func newTestService(t *testing.T) (*Service, *artifact.MemoryStore) {
	t.Helper()
	exports := artifact.NewMemoryStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := New(netrepo.NewMemory(), exports, assembly.Config{AllowJointSuspension: true}, log)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc, exports
}

func seedLine(t *testing.T, svc *Service) *model.Line {
	t.Helper()
	ctx := context.Background()
	line, err := svc.CreateLine(ctx, "L-10-01", 10)
	require.NoError(t, err)
	coords := [][2]float64{{27.56, 53.90}, {27.57, 53.91}, {27.58, 53.92}}
	for i, c := range coords {
		_, err := svc.AddPole(ctx, line.ID, assembly.PoleSpec{
			PoleNumber: "P" + string(rune('1'+i)),
			X:          c[0],
			Y:          c[1],
			Conductor:  model.ConductorSpec{Type: "AC-70", Material: "aluminium", Section: 70},
		})
		require.NoError(t, err)
	}
	return line
}

func TestGraph_CachePurgedOnCommit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	line := seedLine(t, svc)

	g1, err := svc.Graph(ctx, line.ID)
	require.NoError(t, err)
	g2, err := svc.Graph(ctx, line.ID)
	require.NoError(t, err)
	assert.Same(t, g1, g2, "second read is served from cache")

	_, err = svc.AddPole(ctx, line.ID, assembly.PoleSpec{
		PoleNumber: "P4", X: 27.59, Y: 53.93,
		Conductor: model.ConductorSpec{Type: "AC-70", Material: "aluminium", Section: 70},
	})
	require.NoError(t, err)

	g3, err := svc.Graph(ctx, line.ID)
	require.NoError(t, err)
	assert.NotSame(t, g1, g3, "commit invalidates the snapshot")
	assert.Len(t, g3.Poles, 4)
}

func TestExportCIM_PublishesArtifact(t *testing.T) {
	svc, exports := newTestService(t)
	ctx := context.Background()
	line := seedLine(t, svc)

	out, err := svc.ExportCIM(ctx, line.ID, ExportXMLName)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(out), line.MRID))

	stored, err := exports.Get(ctx, line.MRID, ExportXMLName)
	require.NoError(t, err)
	assert.Equal(t, out, stored)

	_, err = svc.ExportCIM(ctx, line.ID, ExportJSONName)
	require.NoError(t, err)

	names, err := exports.List(ctx, line.MRID)
	require.NoError(t, err)
	assert.Equal(t, []string{ExportJSONName, ExportXMLName}, names)

	_, err = svc.ExportCIM(ctx, line.ID, "cim.pdf")
	assert.Equal(t, model.KindInvalidArgument, model.KindOf(err))
}

func TestChanges_CursorPaging(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seedLine(t, svc)

	all, err := svc.Changes(ctx, 0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, all)
	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i].Cursor, all[i-1].Cursor)
	}

	mid := all[len(all)/2].Cursor
	tail, err := svc.Changes(ctx, mid, 0)
	require.NoError(t, err)
	require.NotEmpty(t, tail)
	assert.Greater(t, tail[0].Cursor, mid)
	assert.Equal(t, all[len(all)-1].Cursor, tail[len(tail)-1].Cursor)
}

func TestSubscribe_SeesCommittedChanges(t *testing.T) {
	svc, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := svc.Subscribe(ctx)

	line, err := svc.CreateLine(ctx, "L-watch", 10)
	require.NoError(t, err)

	select {
	case c := <-ch:
		assert.Equal(t, "line", c.Entity)
		assert.Equal(t, line.MRID, c.MRID)
		assert.Equal(t, model.OpCreate, c.Op)
	case <-time.After(time.Second):
		t.Fatal("no change delivered")
	}
}
