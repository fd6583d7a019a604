package parser

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// ooxmlPackage is an opened Office Open XML zip with a name index.
type ooxmlPackage struct {
	r     *zip.ReadCloser
	files map[string]*zip.File
}

func openOOXML(path string) (*ooxmlPackage, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	files := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		files[f.Name] = f
	}
	return &ooxmlPackage{r: r, files: files}, nil
}

func (p *ooxmlPackage) Close() error { return p.r.Close() }

// read returns the bytes of a part, capped at limit bytes.
func (p *ooxmlPackage) read(name string, limit int64) ([]byte, error) {
	f := p.files[name]
	if f == nil {
		return nil, fmt.Errorf("%s not found", name)
	}
	if int64(f.UncompressedSize64) > limit {
		return nil, fmt.Errorf("%w: %s", ErrFileTooLarge, name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, limit))
}

// coreProperties is docProps/core.xml.
type coreProperties struct {
	Title          string `xml:"title"`
	Subject        string `xml:"subject"`
	Creator        string `xml:"creator"`
	LastModifiedBy string `xml:"lastModifiedBy"`
	Created        string `xml:"created"`
	Modified       string `xml:"modified"`
}

// properties returns the non-empty core properties, or nil.
func (p *ooxmlPackage) properties() map[string]any {
	data, err := p.read("docProps/core.xml", 1<<20)
	if err != nil {
		return nil
	}
	var cp coreProperties
	if xml.Unmarshal(data, &cp) != nil {
		return nil
	}
	md := make(map[string]any)
	for k, v := range map[string]string{
		"title":            cp.Title,
		"subject":          cp.Subject,
		"creator":          cp.Creator,
		"last_modified_by": cp.LastModifiedBy,
		"created":          cp.Created,
		"modified":         cp.Modified,
	} {
		if v = strings.TrimSpace(v); v != "" {
			md[k] = v
		}
	}
	if len(md) == 0 {
		return nil
	}
	return md
}

// nestByLevel turns a flat item run with outline levels into a tree. A
// level jump deeper than one attaches to the nearest shallower item.
func nestByLevel(items []ListItem, levels []int) []ListItem {
	i := 0
	var build func(depth int) []ListItem
	build = func(depth int) []ListItem {
		var out []ListItem
		for i < len(items) && levels[i] >= depth {
			if levels[i] > depth && len(out) > 0 {
				last := &out[len(out)-1]
				last.Children = append(last.Children, build(depth+1)...)
				continue
			}
			out = append(out, items[i])
			i++
		}
		return out
	}
	var out []ListItem
	for i < len(items) {
		out = append(out, build(levels[i])...)
	}
	return out
}

// ooxmlConfidence scores natively structured documents: high once any
// element exists, higher with more element kinds.
func ooxmlConfidence(elements []StructuredElement) float64 {
	if len(elements) == 0 {
		return 0
	}
	kinds := make(map[ElementType]bool)
	for _, e := range elements {
		kinds[e.Type] = true
	}
	return min(1, 0.8+0.05*float64(len(kinds)-1))
}
