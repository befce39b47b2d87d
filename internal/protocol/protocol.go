// Package protocol parses FlightGear generic-protocol descriptions. The
// simulator defines its input and output wire formats in PropertyList XML
// documents; the bridge only needs the ordered chunk names, which become the
// endpoint's field registry.
package protocol

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/laminar-data/fgbridge/internal/security"
)

// Chunk is one field of a generic-protocol section. Only Name is required;
// the remaining attributes describe the simulator-side property binding and
// are carried through for diagnostics.
type Chunk struct {
	Name   string
	Node   string
	Type   string
	Format string
}

// Section is one direction (input or output) of a protocol description.
type Section struct {
	LineSeparator string
	VarSeparator  string
	Chunks        []Chunk
}

// FieldNames returns the chunk names in document order, the form the
// endpoint registry consumes.
func (s *Section) FieldNames() []string {
	names := make([]string, len(s.Chunks))
	for i, c := range s.Chunks {
		names[i] = c.Name
	}
	return names
}

// Description is a parsed generic-protocol document. Either section may be
// absent; a command protocol typically defines only <input>, a telemetry
// protocol only <output>.
type Description struct {
	Input  *Section
	Output *Section
}

type xmlChunk struct {
	Name   string `xml:"name"`
	Node   string `xml:"node"`
	Type   string `xml:"type"`
	Format string `xml:"format"`
}

type xmlSection struct {
	LineSeparator string     `xml:"line_separator"`
	VarSeparator  string     `xml:"var_separator"`
	Chunks        []xmlChunk `xml:"chunk"`
}

type xmlPropertyList struct {
	XMLName xml.Name `xml:"PropertyList"`
	Generic struct {
		Input  *xmlSection `xml:"input"`
		Output *xmlSection `xml:"output"`
	} `xml:"generic"`
}

// Parse reads a generic-protocol PropertyList document.
func Parse(r io.Reader) (*Description, error) {
	var doc xmlPropertyList
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse protocol XML: %w", err)
	}
	if doc.Generic.Input == nil && doc.Generic.Output == nil {
		return nil, fmt.Errorf("protocol document has no <generic> input or output section")
	}

	d := &Description{}
	var err error
	if doc.Generic.Input != nil {
		if d.Input, err = convertSection("input", doc.Generic.Input); err != nil {
			return nil, err
		}
	}
	if doc.Generic.Output != nil {
		if d.Output, err = convertSection("output", doc.Generic.Output); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func convertSection(direction string, xs *xmlSection) (*Section, error) {
	s := &Section{
		LineSeparator: xs.LineSeparator,
		VarSeparator:  xs.VarSeparator,
		Chunks:        make([]Chunk, 0, len(xs.Chunks)),
	}
	for i, c := range xs.Chunks {
		if c.Name == "" {
			return nil, fmt.Errorf("%s chunk %d has no <name>", direction, i)
		}
		s.Chunks = append(s.Chunks, Chunk{
			Name:   c.Name,
			Node:   c.Node,
			Type:   c.Type,
			Format: c.Format,
		})
	}
	return s, nil
}

// Load parses the protocol description at path. A relative path is resolved
// against baseDir, and when baseDir is non-empty the result must stay inside
// it; descriptions are always .xml files.
func Load(path, baseDir string) (*Description, error) {
	if err := security.ValidateExtension(path, ".xml"); err != nil {
		return nil, err
	}
	if baseDir != "" {
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		if err := security.ValidatePathWithinDirectory(path, baseDir); err != nil {
			return nil, err
		}
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open protocol description: %w", err)
	}
	defer f.Close()
	return Parse(f)
}
