package output

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/modcache/pkg/modcache/index"
	"github.com/jamesainslie/modcache/pkg/modcache/types"
)

const testHash = "0123456789abcdef0123456789abcdef01234567"

func sampleReport() *Report {
	roots := index.StaticRoots{Source: "/game/mods", Cache: "/game/cache"}
	return &Report{
		Entities: EntityRows([]index.Entity{
			{Hash: testHash, LogicalPath: `{source}\ModA\body.mdl`, Modified: time.Unix(1_700_000_000, 0).UnixNano(), Size: 2048, CompressedSize: index.Unknown},
			{Hash: strings.Repeat("f", 40), LogicalPath: `{cache}\` + strings.Repeat("f", 40) + ".tex", Size: 1024, CompressedSize: 512},
		}, roots),
	}
}

func format(t *testing.T, name string, r *Report) string {
	t.Helper()
	f, err := Get(name)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, f.Format(&buf, r))
	return buf.String()
}

func TestRegistry(t *testing.T) {
	for _, name := range []string{"pretty", "plain", "json", "jsonl", "yaml", "tsv", "csv", "markdown", "template"} {
		assert.Contains(t, Available(), name)
	}
	_, err := Get("nope")
	assert.Error(t, err)

	r := NewRegistry()
	r.Register("x", func() Formatter { return &PlainFormatter{} })
	assert.Equal(t, []string{"x"}, r.Available())
}

func TestNewEntityRow(t *testing.T) {
	rows := sampleReport().Entities
	require.Len(t, rows, 2)

	assert.Equal(t, "source", rows[0].Root)
	assert.Equal(t, "/game/mods/ModA/body.mdl", rows[0].Path)
	assert.Equal(t, "2.0 KiB", rows[0].SizeHuman)
	assert.Equal(t, int64(1_700_000_000), rows[0].Modified.Unix())
	assert.Equal(t, "cache", rows[1].Root)
	assert.Equal(t, int64(3072), (&Report{Entities: rows}).TotalSize())
}

func TestTotalSizeIgnoresUnknown(t *testing.T) {
	r := &Report{Entities: []EntityRow{{Size: index.Unknown}, {Size: 10}}}
	assert.Equal(t, int64(10), r.TotalSize())
}

func TestPrettyEntities(t *testing.T) {
	out := format(t, "pretty", sampleReport())
	assert.Contains(t, out, testHash)
	assert.Contains(t, out, "/game/mods/ModA/body.mdl")
	assert.Contains(t, out, "HASH")
	assert.Contains(t, out, "3.0 KiB")
}

func TestPrettyEmpty(t *testing.T) {
	out := format(t, "pretty", &Report{Entities: []EntityRow{}, History: []HistoryRow{}})
	assert.Contains(t, out, "No entities found")
	assert.Contains(t, out, "No history recorded")
}

func TestPrettyResults(t *testing.T) {
	out := format(t, "pretty", &Report{
		Scan: &types.ScanResult{Candidates: 12, Added: 3, Errors: []types.ScanError{{Path: "/x", Error: "denied"}}},
		Eviction: &types.EvictionResult{
			MaxSize: 100, SizeBefore: 120, SizeAfter: 90, Triggered: true, DryRun: true,
			Evicted: []types.EvictedFile{{Path: "/cache/a.tex", Size: 30}},
		},
		Verify:   &types.VerifyResult{Checked: 5, Broken: 1},
		Status:   &StatusInfo{Running: true, State: "ready", PID: 42, Halted: []string{"combat"}},
		Warnings: []string{"index restored from backup"},
	})
	assert.Contains(t, out, "/x: denied")
	assert.Contains(t, out, "dry run")
	assert.Contains(t, out, "/cache/a.tex")
	assert.Contains(t, out, "Integrity check")
	assert.Contains(t, out, "pid 42")
	assert.Contains(t, out, "combat")
	assert.Contains(t, out, "index restored from backup")
}

func TestPlain(t *testing.T) {
	r := sampleReport()
	r.History = []HistoryRow{{ID: "abc", Kind: "scan", Started: time.Now(), Summary: "scanned 1 files"}}
	out := format(t, "plain", r)
	assert.Contains(t, out, "HASH")
	assert.Contains(t, out, `{source}\ModA\body.mdl`)
	assert.Contains(t, out, "scanned 1 files")
	assert.NotContains(t, out, "\x1b[", "no ANSI escapes")
}

func TestJSON(t *testing.T) {
	out := format(t, "json", sampleReport())
	var got Report
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.Entities, 2)
	assert.Equal(t, testHash, got.Entities[0].Hash)
	assert.Nil(t, got.Scan)
}

func TestJSONL(t *testing.T) {
	out := format(t, "jsonl", sampleReport())
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	var row EntityRow
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &row))
	assert.Equal(t, int64(512), row.CompressedSize)
}

func TestYAML(t *testing.T) {
	out := format(t, "yaml", sampleReport())
	var got map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	assert.Len(t, got["entities"], 2)
}

func TestCSVAndTSV(t *testing.T) {
	records, err := csv.NewReader(strings.NewReader(format(t, "csv", sampleReport()))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{testHash, "2048", "-1", `{source}\ModA\body.mdl`}, records[1])

	tsv := format(t, "tsv", sampleReport())
	assert.True(t, strings.HasPrefix(tsv, "HASH\tSIZE\tPATH\n"))
}

func TestMarkdownEscapesPipes(t *testing.T) {
	out := format(t, "markdown", &Report{Entities: []EntityRow{{Hash: testHash, LogicalPath: "a|b", SizeHuman: "1 B"}}})
	assert.Contains(t, out, `a\|b`)
}

func TestTemplate(t *testing.T) {
	f := NewTemplateFormatter(`{{range .Entities}}{{bytes .Size}} {{date .Modified "2006"}}{{"\n"}}{{end}}total={{.TotalSize}}`)
	var buf bytes.Buffer
	require.NoError(t, f.Format(&buf, sampleReport()))
	assert.Contains(t, buf.String(), "2.0 KiB 2023")
	assert.Contains(t, buf.String(), "total=3072")

	f.SetTemplate("{{.Missing")
	assert.Error(t, f.Format(&buf, sampleReport()))
}
