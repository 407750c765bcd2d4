// Package render turns the visit tables into the HTML page: a scoreboard
// table plus an inline p5.js/Mappa script that pins every airport.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"sort"

	"airport-visit-map/pkg/database"
)

// PageTemplate is the file name looked up in the template filesystem.
const PageTemplate = "visits.html"

// Renderer holds the parsed page templates. It is safe for concurrent use.
type Renderer struct {
	tmpl *template.Template
}

// Page is the data behind one rendered visit page.
type Page struct {
	Counters    []database.CounterRow
	Coordinates []database.CoordinateRow
	Version     string
}

// New parses PageTemplate from fsys.
func New(fsys fs.FS) (*Renderer, error) {
	tmpl, err := template.ParseFS(fsys, PageTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", PageTemplate, err)
	}
	if tmpl.Lookup("error") == nil {
		return nil, fmt.Errorf("parse %s: missing \"error\" template", PageTemplate)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render writes the full page. Output is buffered so a template failure
// never leaves a half-written page behind.
func (r *Renderer) Render(w io.Writer, p Page) error {
	p.Counters = Scoreboard(p.Counters)
	if p.Coordinates == nil {
		// The script iterates the list; JSON null would throw.
		p.Coordinates = []database.CoordinateRow{}
	}

	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, PageTemplate, p); err != nil {
		return fmt.Errorf("render page: %w", err)
	}
	_, err := buf.WriteTo(w)
	return err
}

// RenderError writes the short page shown when a request could not be served.
func (r *Renderer) RenderError(w io.Writer, message, version string) error {
	data := struct {
		Message string
		Version string
	}{Message: message, Version: version}

	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, "error", data); err != nil {
		return fmt.Errorf("render error page: %w", err)
	}
	_, err := buf.WriteTo(w)
	return err
}

// Scoreboard returns a copy of rows ordered for display: busiest first,
// ties broken by country then city.
func Scoreboard(rows []database.CounterRow) []database.CounterRow {
	out := make([]database.CounterRow, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		if out[i].Country != out[j].Country {
			return out[i].Country < out[j].Country
		}
		return out[i].City < out[j].City
	})
	return out
}
