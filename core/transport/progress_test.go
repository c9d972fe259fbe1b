package transport

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadAllWithProgress(t *testing.T) {
	sample := "remote: line1        \n" +
		"blah blah\n" +
		"remote: line2.0        \rremote: line2.1        \n" +
		"remote: line3        \n" +
		"Resolving deltas: (12/24)\n" +
		"some error message\n"

	var progress []Progress
	var sideband [][]byte
	callbacks := &Callbacks{
		Progress: func(p Progress) { progress = append(progress, p) },
		Sideband: func(line []byte) { sideband = append(sideband, bytes.Clone(line)) },
	}

	data, err := readAllWithProgress(bytes.NewReader([]byte(sample)), callbacks)
	require.NoError(t, err)

	assert.Equal(t, []byte("blah blah\nsome error message\n"), data)
	want := [][]byte{
		[]byte("line1"), []byte("\n"),
		[]byte("line2.0"), []byte("\r"),
		[]byte("line2.1"), []byte("\n"),
		[]byte("line3"), []byte("\n"),
	}
	assert.Equal(t, want, sideband)
	require.Len(t, progress, 1)
	assert.InDelta(t, 0.5, progress[0].Overall, 1e-9)
}

func TestReadAllWithProgressNoTrailingNewline(t *testing.T) {
	sample := "remote: note\nsome error message"
	data, err := readAllWithProgress(bytes.NewReader([]byte(sample)), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("some error message"), data)
}

func TestParseProgressCount(t *testing.T) {
	done, total, ok := parseProgressCount([]byte(" (42/100)\r"))
	require.True(t, ok)
	assert.Equal(t, uint64(42), done)
	assert.Equal(t, uint64(100), total)

	_, _, ok = parseProgressCount([]byte(" (420/100)\r"))
	assert.False(t, ok)
	_, _, ok = parseProgressCount([]byte("this is something else\n"))
	assert.False(t, ok)
}

func TestProgressAggregatesPhases(t *testing.T) {
	var p transferProgress
	assert.True(t, p.update([]byte("remote: Counting objects: (10/10)\r")))
	assert.True(t, p.update([]byte("Receiving objects: (5/10)\r")))
	assert.InDelta(t, 0.75, p.overall().Overall, 1e-9)

	assert.False(t, p.update([]byte("remote: plain sideband\n")))
}
