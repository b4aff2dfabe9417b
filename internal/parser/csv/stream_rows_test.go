package csv

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recordload/internal/record"
)

type badLine struct {
	line int
	err  error
}

// collect runs StreamRows over in and returns emitted rows and reported errors.
func collect(t *testing.T, in string, opt Options) ([]record.Raw, []badLine) {
	t.Helper()
	var rows []record.Raw
	var bad []badLine
	err := StreamRows(context.Background(), strings.NewReader(in), opt,
		func(r record.Raw) error { rows = append(rows, r); return nil },
		func(line int, err error) { bad = append(bad, badLine{line, err}) },
	)
	require.NoError(t, err)
	return rows, bad
}

func TestStreamRows_HeaderKeyedRows(t *testing.T) {
	t.Parallel()

	rows, bad := collect(t, "\uFEFFE-Mail, Fname ,Lname\na@x.io,Ann,Lee\nb@x.io,Bob,Ray\n", Options{TrimSpace: true})
	require.Empty(t, bad)
	require.Len(t, rows, 2)

	assert.Equal(t, []record.Field{
		{Name: "E-Mail", Value: "a@x.io"},
		{Name: "Fname", Value: "Ann"},
		{Name: "Lname", Value: "Lee"},
	}, rows[0].Fields)
	assert.Equal(t, 2, rows[0].Line)
	assert.Equal(t, 3, rows[1].Line)
}

func TestStreamRows_ShortRowsYieldNullFields(t *testing.T) {
	t.Parallel()

	rows, bad := collect(t, "a,b,c\n1\n", Options{})
	require.Empty(t, bad)
	require.Len(t, rows, 1)
	assert.Equal(t, record.Field{Name: "a", Value: "1"}, rows[0].Fields[0])
	assert.True(t, rows[0].Fields[1].Null)
	assert.True(t, rows[0].Fields[2].Null)
}

func TestStreamRows_SkipsMalformedRows(t *testing.T) {
	t.Parallel()

	in := strings.Join([]string{
		"email,name",
		"ok1@x.io,One",
		"too@x.io,many,cells",
		`bad@x.io,"unterminated "quote" here`,
		"ok2@x.io,Two",
	}, "\n") + "\n"

	rows, bad := collect(t, in, Options{})
	require.Len(t, rows, 2)
	assert.Equal(t, "ok1@x.io", rows[0].Fields[0].Value)
	assert.Equal(t, "ok2@x.io", rows[1].Fields[0].Value)

	require.Len(t, bad, 2)
	assert.Equal(t, 3, bad[0].line)
	assert.Contains(t, bad[0].err.Error(), "expected 2 fields")
	assert.Equal(t, 4, bad[1].line)
}

func TestStreamRows_CustomDelimiterAndTrim(t *testing.T) {
	t.Parallel()

	rows, _ := collect(t, "email;city\n  a@x.io ; Oslo \n", Options{Comma: ';', TrimSpace: true})
	require.Len(t, rows, 1)
	v, ok := rows[0].Get("city")
	require.True(t, ok)
	assert.Equal(t, "Oslo", v)
}

func TestStreamRows_EmptyInput(t *testing.T) {
	t.Parallel()

	rows, bad := collect(t, "", Options{})
	assert.Empty(t, rows)
	assert.Empty(t, bad)
}

func TestStreamRows_EmitErrorStops(t *testing.T) {
	t.Parallel()

	stop := errors.New("stop")
	calls := 0
	err := StreamRows(context.Background(), strings.NewReader("a\n1\n2\n3\n"), Options{},
		func(record.Raw) error {
			calls++
			if calls == 2 {
				return stop
			}
			return nil
		}, nil)
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 2, calls)
}

func TestStreamRows_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := StreamRows(ctx, strings.NewReader("a\n1\n"), Options{},
		func(record.Raw) error { return nil }, nil)
	require.ErrorIs(t, err, context.Canceled)
}
