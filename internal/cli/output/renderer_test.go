package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resultFixture struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
	Count   int      `json:"rowCount"`
}

func sampleDataset() Dataset {
	rows := [][]any{
		{int64(1), "alice, the first", json.RawMessage(`{"vip":true}`)},
		{int64(2), nil, json.RawMessage(`[1,2]`)},
	}
	return Dataset{
		Columns: []string{"id", "name", "tags"},
		Rows:    rows,
		Value:   resultFixture{Columns: []string{"id", "name", "tags"}, Rows: rows, Count: 2},
	}
}

func render(t *testing.T, mode Mode, isTTY bool, d Dataset) (string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	r := NewRendererWithTTY(&out, &errOut, isTTY, mode)
	require.NoError(t, r.Render(d))
	return out.String(), errOut.String()
}

func TestEffectiveMode(t *testing.T) {
	tests := []struct {
		mode  Mode
		isTTY bool
		want  Mode
	}{
		{ModeAuto, true, ModeTable},
		{ModeAuto, false, ModeJSON},
		{"", true, ModeTable},
		{ModeYAML, true, ModeYAML},
		{ModeTable, false, ModeTable},
		{ModeCSV, true, ModeCSV},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode)+"/"+map[bool]string{true: "tty", false: "pipe"}[tt.isTTY], func(t *testing.T) {
			r := NewRendererWithTTY(&bytes.Buffer{}, &bytes.Buffer{}, tt.isTTY, tt.mode)
			assert.Equal(t, tt.want, r.EffectiveMode())
		})
	}
}

func TestRender_Table(t *testing.T) {
	out, _ := render(t, ModeTable, false, sampleDataset())

	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "alice, the first")
	assert.Contains(t, out, "NULL")
	assert.Contains(t, out, `{"vip":true}`)
	assert.True(t, strings.HasSuffix(out, "(2 rows)\n"))
}

func TestRender_EmptyTable(t *testing.T) {
	out, _ := render(t, ModeTable, true, Dataset{Columns: []string{"id"}})
	assert.Contains(t, out, "(0 rows)")
}

func TestRender_Markdown(t *testing.T) {
	out, _ := render(t, ModeMarkdown, false, sampleDataset())

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "| id | name | tags |", strings.ToLower(lines[0]))
	assert.Contains(t, lines[3], "| 2 | NULL |")
}

func TestRender_CSV(t *testing.T) {
	out, _ := render(t, ModeCSV, false, sampleDataset())

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "id,name,tags", strings.ToLower(lines[0]))
	assert.Contains(t, lines[1], `"alice, the first"`)
}

func TestRender_JSON(t *testing.T) {
	out, _ := render(t, ModeAuto, false, sampleDataset())

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, float64(2), decoded["rowCount"])
	rows := decoded["rows"].([]any)
	assert.Equal(t, map[string]any{"vip": true}, rows[0].([]any)[2])
}

func TestRender_YAML(t *testing.T) {
	out, _ := render(t, ModeYAML, false, sampleDataset())

	assert.Contains(t, out, "rowCount: 2")
	assert.Contains(t, out, "vip: true")
	assert.Contains(t, out, "- alice, the first")
	assert.NotContains(t, out, "Columns")
}

func TestMessage(t *testing.T) {
	var out, errOut bytes.Buffer
	NewRendererWithTTY(&out, &errOut, true, ModeTable).Message("Deleted %s", "shop")
	assert.Equal(t, "Deleted shop\n", out.String())
	assert.Empty(t, errOut.String())

	out.Reset()
	NewRendererWithTTY(&out, &errOut, false, ModeJSON).Message("Deleted %s", "shop")
	assert.Empty(t, out.String())
	assert.Equal(t, "Deleted shop\n", errOut.String())
}

func TestFormatValue(t *testing.T) {
	count := uint64(42)
	def := "now()"
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "NULL"},
		{"int", int64(7), "7"},
		{"float", 1.5, "1.5"},
		{"bool", true, "true"},
		{"raw json", json.RawMessage(`{"a":1}`), `{"a":1}`},
		{"bytes", []byte("abc"), "abc"},
		{"time", ts, "2024-05-01T12:00:00Z"},
		{"count", &count, "42"},
		{"nil count", (*uint64)(nil), "NULL"},
		{"default", &def, "now()"},
		{"nil default", (*string)(nil), "NULL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatValue(tt.in))
		})
	}
}
