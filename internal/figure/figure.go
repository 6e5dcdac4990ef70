// Package figure writes experiment results for external plotting.
//
// The XML format is a flat list of tagged blocks under a <figure> root whose
// attributes are axis settings:
//
//	<figure xscale="log" xlabel="n">
//		<plot x="n0" y="data0" color="tab:blue" label="Voter"></plot>
//		<data name="n0"> 8,16,32 </data>
//		<data name="data0"> 12.5,30.1,71 </data>
//	</figure>
//
// plot and scatter elements name the data blocks holding their coordinates;
// every other attribute is passed to the plotting call unchanged.
package figure

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ErrOddAttributes is returned when an attribute list is not made of
// key/value pairs.
var ErrOddAttributes = errors.New("odd number of attribute arguments")

type element struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Text    string     `xml:",chardata"`
}

// Figure accumulates plot directives and data blocks in insertion order.
type Figure struct {
	XMLName  xml.Name   `xml:"figure"`
	Attrs    []xml.Attr `xml:",any,attr"`
	Elements []element  `xml:",any"`
}

// New creates a figure with the given axis attributes, as key/value pairs
// (for example "xscale", "log").
func New(attrs ...string) (*Figure, error) {
	a, err := pairs(attrs)
	if err != nil {
		return nil, err
	}
	return &Figure{Attrs: a}, nil
}

func pairs(kv []string) ([]xml.Attr, error) {
	if len(kv)%2 == 1 {
		return nil, fmt.Errorf("%w: %q", ErrOddAttributes, kv)
	}
	attrs := make([]xml.Attr, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: kv[i]}, Value: kv[i+1]})
	}
	return attrs, nil
}

func (f *Figure) add(tag string, fixed []xml.Attr, kv []string) error {
	attrs, err := pairs(kv)
	if err != nil {
		return err
	}
	f.Elements = append(f.Elements, element{
		XMLName: xml.Name{Local: tag},
		Attrs:   append(fixed, attrs...),
	})
	return nil
}

func coords(x, y string) []xml.Attr {
	return []xml.Attr{
		{Name: xml.Name{Local: "x"}, Value: x},
		{Name: xml.Name{Local: "y"}, Value: y},
	}
}

// Plot draws a line through the data blocks named x and y. An empty x (or y)
// plots against the indices of the other.
func (f *Figure) Plot(x, y string, attrs ...string) error {
	return f.add("plot", coords(x, y), attrs)
}

// Scatter draws unconnected markers at the data blocks named x and y.
func (f *Figure) Scatter(x, y string, attrs ...string) error {
	return f.add("scatter", coords(x, y), attrs)
}

// AxVLine draws a vertical line at x.
func (f *Figure) AxVLine(x float64, attrs ...string) error {
	return f.add("axvline", []xml.Attr{{Name: xml.Name{Local: "x"}, Value: formatFloat(x)}}, attrs)
}

// AddData stores a named block of numbers.
func (f *Figure) AddData(name string, values []float64) {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = formatFloat(v)
	}
	f.addData(name, parts)
}

// AddInts stores a named block of integers.
func (f *Figure) AddInts(name string, values []int) {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	f.addData(name, parts)
}

func (f *Figure) addData(name string, parts []string) {
	f.Elements = append(f.Elements, element{
		XMLName: xml.Name{Local: "data"},
		Attrs:   []xml.Attr{{Name: xml.Name{Local: "name"}, Value: name}},
		Text:    " " + strings.Join(parts, ",") + " ",
	})
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteTo writes the figure as indented XML followed by a newline.
func (f *Figure) WriteTo(w io.Writer) (int64, error) {
	out, err := xml.MarshalIndent(f, "", "\t")
	if err != nil {
		return 0, fmt.Errorf("encoding figure: %w", err)
	}
	out = append(out, '\n')
	n, err := w.Write(out)
	return int64(n), err
}

// WriteFile writes the figure to path, replacing any existing file.
func (f *Figure) WriteFile(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating figure file: %w", err)
	}
	if _, err := f.WriteTo(file); err != nil {
		file.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	return nil
}
