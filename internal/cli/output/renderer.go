// Package output renders command results for terminals and scripts.
//
// In auto mode a terminal gets a table and anything else gets JSON, so piped
// output stays machine-readable.
package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// Mode selects the output format.
type Mode string

// Output modes.
const (
	ModeAuto     Mode = "auto"
	ModeTable    Mode = "table"
	ModeMarkdown Mode = "markdown"
	ModeCSV      Mode = "csv"
	ModeJSON     Mode = "json"
	ModeYAML     Mode = "yaml"
)

// Modes lists every accepted mode, for flag completion.
var Modes = []string{
	string(ModeAuto), string(ModeTable), string(ModeMarkdown),
	string(ModeCSV), string(ModeJSON), string(ModeYAML),
}

// Dataset is a result with a tabular projection. Value is what structured
// modes encode; Columns and Rows feed the table modes.
type Dataset struct {
	Columns []string
	Rows    [][]any
	Value   any
}

// Renderer writes results to out and diagnostics to errOut.
type Renderer struct {
	out    io.Writer
	errOut io.Writer
	isTTY  bool
	mode   Mode
}

// NewRenderer creates a renderer, detecting whether out is a terminal.
func NewRenderer(out, errOut io.Writer, mode Mode) *Renderer {
	isTTY := false
	if f, ok := out.(*os.File); ok {
		isTTY = term.IsTerminal(int(f.Fd()))
	}
	return NewRendererWithTTY(out, errOut, isTTY, mode)
}

// NewRendererWithTTY creates a renderer with an explicit terminal state.
func NewRendererWithTTY(out, errOut io.Writer, isTTY bool, mode Mode) *Renderer {
	if mode == "" {
		mode = ModeAuto
	}
	return &Renderer{out: out, errOut: errOut, isTTY: isTTY, mode: mode}
}

// EffectiveMode resolves auto mode against the terminal state.
func (r *Renderer) EffectiveMode() Mode {
	if r.mode != ModeAuto {
		return r.mode
	}
	if r.isTTY {
		return ModeTable
	}
	return ModeJSON
}

// Structured reports whether output is meant for machines.
func (r *Renderer) Structured() bool {
	m := r.EffectiveMode()
	return m == ModeJSON || m == ModeYAML
}

// Render writes d in the effective mode.
func (r *Renderer) Render(d Dataset) error {
	switch r.EffectiveMode() {
	case ModeJSON:
		return r.JSON(d.Value)
	case ModeYAML:
		return r.YAML(d.Value)
	case ModeMarkdown:
		r.table(d).RenderMarkdown()
		return nil
	case ModeCSV:
		r.table(d).RenderCSV()
		return nil
	default:
		r.table(d).Render()
		_, _ = fmt.Fprintf(r.out, "(%d rows)\n", len(d.Rows))
		return nil
	}
}

// JSON writes v as indented JSON.
func (r *Renderer) JSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// YAML writes v as YAML, using its JSON field names.
func (r *Renderer) YAML(v any) error {
	plain, err := toPlain(v)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(r.out)
	enc.SetIndent(2)
	if err := enc.Encode(plain); err != nil {
		return fmt.Errorf("failed to encode yaml: %w", err)
	}
	return enc.Close()
}

// Message writes a human-readable line. Structured modes send it to errOut
// so stdout stays parseable.
func (r *Renderer) Message(format string, args ...any) {
	w := r.out
	if r.Structured() {
		w = r.errOut
	}
	_, _ = fmt.Fprintf(w, format+"\n", args...)
}

// Info writes a diagnostic line to errOut.
func (r *Renderer) Info(format string, args ...any) {
	_, _ = fmt.Fprintf(r.errOut, format+"\n", args...)
}

func (r *Renderer) table(d Dataset) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetStyle(table.StyleLight)

	header := make(table.Row, len(d.Columns))
	for i, col := range d.Columns {
		header[i] = col
	}
	t.AppendHeader(header)

	for _, values := range d.Rows {
		row := make(table.Row, len(values))
		for i, v := range values {
			row[i] = FormatValue(v)
		}
		t.AppendRow(row)
	}
	return t
}

// FormatValue renders a cell for the table modes.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case json.RawMessage:
		return string(val)
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case *uint64:
		if val == nil {
			return "NULL"
		}
		return fmt.Sprintf("%d", *val)
	case *string:
		if val == nil {
			return "NULL"
		}
		return *val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// toPlain round-trips v through JSON so yaml sees the same field names and
// embedded JSON documents as the API does.
func toPlain(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	var plain any
	if err := json.Unmarshal(raw, &plain); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return plain, nil
}

type rendererKey struct{}

// WithRenderer stores r in ctx.
func WithRenderer(ctx context.Context, r *Renderer) context.Context {
	return context.WithValue(ctx, rendererKey{}, r)
}

// FromContext returns the renderer stored by WithRenderer.
func FromContext(ctx context.Context) (*Renderer, bool) {
	r, ok := ctx.Value(rendererKey{}).(*Renderer)
	return r, ok
}
