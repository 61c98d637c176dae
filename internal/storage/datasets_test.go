package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDatasetNumber(t *testing.T) {
	f, ok := ParseDatasetNumber("1,234")
	require.True(t, ok)
	assert.Equal(t, 1234.0, f)

	f, ok = ParseDatasetNumber("1,234.5")
	require.True(t, ok)
	assert.Equal(t, 1234.5, f)

	_, ok = ParseDatasetNumber("abc")
	assert.False(t, ok)
}

func TestParseDatasetTime(t *testing.T) {
	for _, v := range []string{"2026-01-15", "01/02/2006", "02.01.2006", "2026-01-15 10:30:00"} {
		_, ok := ParseDatasetTime(v)
		assert.True(t, ok, v)
	}
	_, ok := ParseDatasetTime("not a date")
	assert.False(t, ok)
}

func TestParseDatasetBool(t *testing.T) {
	for v, want := range map[string]bool{"true": true, "Yes": true, "FALSE": false, "no": false} {
		b, ok := ParseDatasetBool(v)
		require.True(t, ok, v)
		assert.Equal(t, want, b, v)
	}
	_, ok := ParseDatasetBool("maybe")
	assert.False(t, ok)
}

// Raw source formatting must never reach the engines: cells are bound as
// the Go type their column was inferred as.
func TestRowArgsNormalizesCells(t *testing.T) {
	columns := []ColumnSpec{
		{Name: "name", Type: ColumnText},
		{Name: "price", Type: ColumnNumber},
		{Name: "added", Type: ColumnDate},
		{Name: "in_stock", Type: ColumnBoolean},
	}

	args := rowArgs([]string{"Widget", "1,234.5", "01/02/2006", "yes"}, columns)
	require.Len(t, args, 4)

	assert.Equal(t, "Widget", args[0])
	assert.Equal(t, 1234.5, args[1])
	assert.Equal(t, time.Date(2006, 1, 2, 0, 0, 0, 0, time.UTC), args[2])
	assert.Equal(t, true, args[3])
}

func TestRowArgsEmptyAndShortCells(t *testing.T) {
	columns := []ColumnSpec{
		{Name: "a", Type: ColumnText},
		{Name: "b", Type: ColumnNumber},
		{Name: "c", Type: ColumnNumber},
	}

	// Blank and whitespace-only cells become NULL, as do cells past the
	// end of a short row.
	args := rowArgs([]string{"  ", ""}, columns)
	require.Len(t, args, 3)
	assert.Nil(t, args[0])
	assert.Nil(t, args[1])
	assert.Nil(t, args[2])

	// A cell the column type cannot parse degrades to NULL instead of
	// failing the whole insert.
	args = rowArgs([]string{"x", "not-a-number"}, columns)
	assert.Equal(t, "x", args[0])
	assert.Nil(t, args[1])
}

func TestBuildInsertQuotesIdentifiers(t *testing.T) {
	columns := []ColumnSpec{{Name: "name", Type: ColumnText}, {Name: "price", Type: ColumnNumber}}
	insert := buildInsert("ds_products", columns, func(i int) string { return "?" })
	assert.Equal(t, `INSERT INTO "ds_products" ("name", "price") VALUES (?, ?)`, insert)
}
