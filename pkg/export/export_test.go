package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTable() Table {
	return Table{
		Title:   "audit log",
		Columns: []string{"time", "outcome", "reason"},
		Rows: [][]string{
			{"2026-01-01T00:00:00Z", "DENIED", "trust score too low"},
			{"2026-01-01T00:00:01Z", "ALLOWED"},
		},
	}
}

func TestCSVRender(t *testing.T) {
	out, err := CSV{}.Render(sampleTable())
	require.NoError(t, err)
	assert.Equal(t, "time,outcome,reason\n2026-01-01T00:00:00Z,DENIED,trust score too low\n2026-01-01T00:00:01Z,ALLOWED,\n", string(out))
}

func TestPDFRender(t *testing.T) {
	fixed := func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	out, err := PDF{Generated: fixed}.Render(sampleTable())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
}

func TestRenderRejectsEmptyColumns(t *testing.T) {
	_, err := CSV{}.Render(Table{})
	assert.ErrorIs(t, err, ErrEmptyHeader)
	_, err = PDF{}.Render(Table{})
	assert.ErrorIs(t, err, ErrEmptyHeader)
}

func TestRendererFor(t *testing.T) {
	r, err := RendererFor(FormatPDF)
	require.NoError(t, err)
	assert.Equal(t, "pdf", r.Extension())

	_, err = RendererFor("xlsx")
	assert.Error(t, err)
}
