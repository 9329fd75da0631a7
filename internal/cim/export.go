// Package cim renders a line graph as IEC 61970 CIM documents: RDF/XML per
// 61970-552 and a JSON profile with the same decomposition. Every resource is
// addressed as "#_<mRID>".
package cim

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strconv"

	"lepm/internal/model"
)

const (
	nsRDF = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	nsCIM = "http://iec.ch/TC57/2013/CIM-schema-cim16#"
)

func ref(mrid string) string { return "#_" + mrid }

type resource struct {
	Resource string `xml:"rdf:resource,attr"`
}

type rdfLine struct {
	About   string  `xml:"rdf:about,attr"`
	Name    string  `xml:"cim:IdentifiedObject.name"`
	Voltage float64 `xml:"cim:Line.nominalVoltage"`
}

type rdfSegment struct {
	About     string    `xml:"rdf:about,attr"`
	Name      string    `xml:"cim:IdentifiedObject.name"`
	LengthKM  string    `xml:"cim:Conductor.length"`
	Container *resource `xml:"cim:Equipment.EquipmentContainer"`
}

type rdfSection struct {
	About     string    `xml:"rdf:about,attr"`
	Sequence  int       `xml:"cim:IdentifiedObject.sequenceNumber"`
	Type      string    `xml:"cim:WireInfo.conductorType"`
	Material  string    `xml:"cim:WireInfo.material"`
	SectionMM int       `xml:"cim:WireInfo.crossSection"`
	LengthKM  string    `xml:"cim:Conductor.length"`
	Segment   *resource `xml:"cim:LineSection.ACLineSegment"`
}

type rdfNode struct {
	About string `xml:"rdf:about,attr"`
	Name  string `xml:"cim:IdentifiedObject.name"`
}

type rdfPosition struct {
	About    string `xml:"rdf:about,attr"`
	X        string `xml:"cim:PositionPoint.xPosition"`
	Y        string `xml:"cim:PositionPoint.yPosition"`
	Sequence int    `xml:"cim:PositionPoint.sequenceNumber"`
}

type rdfTerminal struct {
	About    string    `xml:"rdf:about,attr"`
	Sequence int       `xml:"cim:ACDCTerminal.sequenceNumber"`
	Node     *resource `xml:"cim:Terminal.ConnectivityNode"`
	Device   *resource `xml:"cim:Terminal.ConductingEquipment"`
}

type rdfDoc struct {
	XMLName   xml.Name      `xml:"rdf:RDF"`
	NSRDF     string        `xml:"xmlns:rdf,attr"`
	NSCIM     string        `xml:"xmlns:cim,attr"`
	Line      rdfLine       `xml:"cim:Line"`
	Segments  []rdfSegment  `xml:"cim:ACLineSegment"`
	Sections  []rdfSection  `xml:"cim:LineSection"`
	Nodes     []rdfNode     `xml:"cim:ConnectivityNode"`
	Positions []rdfPosition `xml:"cim:PositionPoint"`
	Terminals []rdfTerminal `xml:"cim:Terminal"`
}

// num renders a float without exponent noise, the way CIM tools expect.
func num(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// ExportXML renders the graph as a CIM RDF/XML document.
func ExportXML(g *model.LineGraph) ([]byte, error) {
	doc := rdfDoc{
		NSRDF: nsRDF,
		NSCIM: nsCIM,
		Line: rdfLine{
			About:   ref(g.Line.MRID),
			Name:    g.Line.Name,
			Voltage: g.Line.VoltageKV,
		},
	}

	for _, seg := range g.Segments {
		doc.Segments = append(doc.Segments, rdfSegment{
			About:     ref(seg.MRID),
			Name:      seg.Name,
			LengthKM:  num(seg.LengthKM),
			Container: &resource{Resource: ref(g.Line.MRID)},
		})
		for _, sec := range g.SectionsOf(seg.ID) {
			doc.Sections = append(doc.Sections, rdfSection{
				About:     ref(sec.MRID),
				Sequence:  sec.SequenceNumber,
				Type:      sec.Conductor.Type,
				Material:  sec.Conductor.Material,
				SectionMM: sec.Conductor.Section,
				LengthKM:  num(sec.TotalLengthKM),
				Segment:   &resource{Resource: ref(seg.MRID)},
			})
		}
	}

	for _, n := range g.Nodes {
		doc.Nodes = append(doc.Nodes, rdfNode{About: ref(n.MRID), Name: n.Name})
		doc.Positions = append(doc.Positions, rdfPosition{
			About:    ref(n.MRID) + "_pp",
			X:        num(n.X),
			Y:        num(n.Y),
			Sequence: 1,
		})
	}

	segByID := map[int64]string{}
	for _, seg := range g.Segments {
		segByID[seg.ID] = seg.MRID
	}
	nodeByID := map[int64]string{}
	for _, n := range g.Nodes {
		nodeByID[n.ID] = n.MRID
	}
	for _, term := range g.Terminals {
		segMRID, okSeg := segByID[term.SegmentID]
		nodeMRID, okNode := nodeByID[term.NodeID]
		if !okSeg || !okNode {
			return nil, fmt.Errorf("terminal %s references an unknown segment or node", term.MRID)
		}
		doc.Terminals = append(doc.Terminals, rdfTerminal{
			About:    ref(term.MRID),
			Sequence: term.SequenceNumber,
			Node:     &resource{Resource: ref(nodeMRID)},
			Device:   &resource{Resource: ref(segMRID)},
		})
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal cim xml: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

type jsonSpan struct {
	MRID           string              `json:"mrid"`
	SequenceNumber int                 `json:"sequence_number"`
	FromNode       string              `json:"from_node"`
	ToNode         string              `json:"to_node"`
	LengthM        float64             `json:"length_m"`
	Conductor      model.ConductorSpec `json:"conductor"`
}

type jsonSection struct {
	MRID           string              `json:"mrid"`
	SequenceNumber int                 `json:"sequence_number"`
	Conductor      model.ConductorSpec `json:"conductor"`
	TotalLengthKM  float64             `json:"total_length_km"`
	Spans          []jsonSpan          `json:"spans"`
}

type jsonSegment struct {
	MRID           string        `json:"mrid"`
	Name           string        `json:"name"`
	SequenceNumber int           `json:"sequence_number"`
	FromNode       string        `json:"from_node"`
	ToNode         *string       `json:"to_node"`
	LengthKM       float64       `json:"length_km"`
	Sections       []jsonSection `json:"sections"`
}

type jsonNode struct {
	MRID string  `json:"mrid"`
	Name string  `json:"name"`
	X    float64 `json:"x_position"`
	Y    float64 `json:"y_position"`
}

type jsonDoc struct {
	MRID      string        `json:"mrid"`
	Name      string        `json:"name"`
	VoltageKV float64       `json:"voltage_kv"`
	Segments  []jsonSegment `json:"segments"`
	Nodes     []jsonNode    `json:"connectivity_nodes"`
}

// ExportJSON renders the graph as a JSON document with the same
// decomposition and identifiers as the RDF/XML profile.
func ExportJSON(g *model.LineGraph) ([]byte, error) {
	nodeByID := map[int64]string{}
	for _, n := range g.Nodes {
		nodeByID[n.ID] = n.MRID
	}

	doc := jsonDoc{
		MRID:      g.Line.MRID,
		Name:      g.Line.Name,
		VoltageKV: g.Line.VoltageKV,
		Segments:  []jsonSegment{},
		Nodes:     []jsonNode{},
	}
	for _, n := range g.Nodes {
		doc.Nodes = append(doc.Nodes, jsonNode{MRID: n.MRID, Name: n.Name, X: n.X, Y: n.Y})
	}
	for _, seg := range g.Segments {
		js := jsonSegment{
			MRID:           seg.MRID,
			Name:           seg.Name,
			SequenceNumber: seg.SequenceNumber,
			FromNode:       nodeByID[seg.FromNodeID],
			LengthKM:       seg.LengthKM,
			Sections:       []jsonSection{},
		}
		if seg.ToNodeID != nil {
			to := nodeByID[*seg.ToNodeID]
			js.ToNode = &to
		}
		for _, sec := range g.SectionsOf(seg.ID) {
			jsec := jsonSection{
				MRID:           sec.MRID,
				SequenceNumber: sec.SequenceNumber,
				Conductor:      sec.Conductor,
				TotalLengthKM:  sec.TotalLengthKM,
				Spans:          []jsonSpan{},
			}
			for _, sp := range g.SpansOf(sec.ID) {
				jsec.Spans = append(jsec.Spans, jsonSpan{
					MRID:           sp.MRID,
					SequenceNumber: sp.SequenceNumber,
					FromNode:       nodeByID[sp.FromNodeID],
					ToNode:         nodeByID[sp.ToNodeID],
					LengthM:        sp.LengthM,
					Conductor:      sp.Conductor,
				})
			}
			js.Sections = append(js.Sections, jsec)
		}
		doc.Segments = append(doc.Segments, js)
	}
	return json.MarshalIndent(doc, "", "  ")
}
