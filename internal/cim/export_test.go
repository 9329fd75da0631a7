package cim

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lepm/internal/model"
)

func testGraph() *model.LineGraph {
	lineID := int64(1)
	toID := int64(11)
	return &model.LineGraph{
		Line: model.Line{ID: 1, MRID: "8f14e45f-ceea-467f-a8cb-000000000001", Name: "L-10-01", VoltageKV: 10},
		Nodes: []model.ConnectivityNode{
			{ID: 10, MRID: "8f14e45f-ceea-467f-a8cb-000000000010", Name: "P1", LineID: &lineID, X: 27.56, Y: 53.90},
			{ID: 11, MRID: "8f14e45f-ceea-467f-a8cb-000000000011", Name: "P2", LineID: &lineID, X: 27.57, Y: 53.91},
		},
		Segments: []model.ACLineSegment{
			{ID: 20, MRID: "8f14e45f-ceea-467f-a8cb-000000000020", LineID: 1, SequenceNumber: 1, Name: "P1 - P2", FromNodeID: 10, ToNodeID: &toID, LengthKM: 1.39},
		},
		Sections: []model.LineSection{
			{ID: 30, MRID: "8f14e45f-ceea-467f-a8cb-000000000030", SegmentID: 20, SequenceNumber: 1, Conductor: model.ConductorSpec{Type: "AC-70", Material: "aluminium", Section: 70}, TotalLengthKM: 1.39},
		},
		Spans: []model.Span{
			{ID: 40, MRID: "8f14e45f-ceea-467f-a8cb-000000000040", LineID: 1, SectionID: 30, FromNodeID: 10, ToNodeID: 11, SequenceNumber: 1, LengthM: 1390, Conductor: model.ConductorSpec{Type: "AC-70", Material: "aluminium", Section: 70}},
		},
		Terminals: []model.Terminal{
			{ID: 50, MRID: "8f14e45f-ceea-467f-a8cb-000000000050", SegmentID: 20, NodeID: 10, SequenceNumber: 1},
			{ID: 51, MRID: "8f14e45f-ceea-467f-a8cb-000000000051", SegmentID: 20, NodeID: 11, SequenceNumber: 2},
		},
	}
}

func TestExportXML(t *testing.T) {
	out, err := ExportXML(testGraph())
	require.NoError(t, err)
	doc := string(out)

	assert.True(t, strings.HasPrefix(doc, "<?xml"))
	assert.Contains(t, doc, `xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#"`)
	assert.Contains(t, doc, `xmlns:cim="http://iec.ch/TC57/2013/CIM-schema-cim16#"`)
	assert.Contains(t, doc, `<cim:Line rdf:about="#_8f14e45f-ceea-467f-a8cb-000000000001">`)
	assert.Contains(t, doc, `<cim:ACLineSegment rdf:about="#_8f14e45f-ceea-467f-a8cb-000000000020">`)
	assert.Contains(t, doc, `<cim:Equipment.EquipmentContainer rdf:resource="#_8f14e45f-ceea-467f-a8cb-000000000001">`)
	assert.Contains(t, doc, "<cim:WireInfo.conductorType>AC-70</cim:WireInfo.conductorType>")
	assert.Contains(t, doc, "<cim:PositionPoint.xPosition>27.56</cim:PositionPoint.xPosition>")
	assert.Contains(t, doc, "<cim:PositionPoint.yPosition>53.9</cim:PositionPoint.yPosition>")
	assert.Contains(t, doc, `<cim:Terminal rdf:about="#_8f14e45f-ceea-467f-a8cb-000000000050">`)
	assert.Contains(t, doc, "<cim:Conductor.length>1.39</cim:Conductor.length>")
}

func TestExportXML_DanglingTerminal(t *testing.T) {
	g := testGraph()
	g.Terminals = append(g.Terminals, model.Terminal{ID: 52, MRID: "x", SegmentID: 999, NodeID: 10, SequenceNumber: 1})
	_, err := ExportXML(g)
	assert.Error(t, err)
}

func TestExportJSON(t *testing.T) {
	out, err := ExportJSON(testGraph())
	require.NoError(t, err)

	var doc struct {
		MRID     string `json:"mrid"`
		Segments []struct {
			MRID     string  `json:"mrid"`
			FromNode string  `json:"from_node"`
			ToNode   *string `json:"to_node"`
			Sections []struct {
				Spans []struct {
					FromNode string  `json:"from_node"`
					LengthM  float64 `json:"length_m"`
				} `json:"spans"`
			} `json:"sections"`
		} `json:"segments"`
		Nodes []struct {
			MRID string  `json:"mrid"`
			X    float64 `json:"x_position"`
		} `json:"connectivity_nodes"`
	}
	require.NoError(t, json.Unmarshal(out, &doc))

	assert.Equal(t, "8f14e45f-ceea-467f-a8cb-000000000001", doc.MRID)
	require.Len(t, doc.Segments, 1)
	assert.Equal(t, "8f14e45f-ceea-467f-a8cb-000000000010", doc.Segments[0].FromNode)
	require.NotNil(t, doc.Segments[0].ToNode)
	require.Len(t, doc.Segments[0].Sections, 1)
	require.Len(t, doc.Segments[0].Sections[0].Spans, 1)
	assert.Equal(t, 1390.0, doc.Segments[0].Sections[0].Spans[0].LengthM)
	require.Len(t, doc.Nodes, 2)
	assert.Equal(t, 27.56, doc.Nodes[0].X)
}
