package infra

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func collect(t *testing.T, input string) []string {
	t.Helper()
	var lines []string
	err := drainLines(strings.NewReader(input), nil, func(line string) error {
		lines = append(lines, line)
		return nil
	})
	require.NoError(t, err)
	return lines
}

func TestDrainLinesKeepsOrder(t *testing.T) {
	lines := collect(t, "one\ntwo\r\n\nthree\n")
	assert.Equal(t, []string{"one", "two", "three"}, lines)
}

func TestDrainLinesFlushesTrailingFragment(t *testing.T) {
	lines := collect(t, "complete\npartial")
	assert.Equal(t, []string{"complete", "partial"}, lines)
}

func TestDrainLinesHandlesLongLines(t *testing.T) {
	long := strings.Repeat("x", 3*outputBufferSize)
	lines := collect(t, long+"\nshort\n")
	require.Len(t, lines, 2)
	assert.Len(t, lines[0], len(long))
	assert.Equal(t, "short", lines[1])
}

func TestDrainLinesStopsOnSinkError(t *testing.T) {
	boom := errors.New("sink full")
	var seen []string
	err := drainLines(strings.NewReader("a\nb\nc\n"), nil, func(line string) error {
		seen = append(seen, line)
		if line == "b" {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestDrainLinesRecoversSinkPanic(t *testing.T) {
	err := drainLines(strings.NewReader("a\n"), nil, func(string) error {
		panic("bad sink")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad sink")
}

func TestDrainLinesDecodesLegacyEncoding(t *testing.T) {
	encoded, err := simplifiedchinese.GBK.NewEncoder().String("进程正常结束\n")
	require.NoError(t, err)

	enc, err := LookupEncoding("gbk")
	require.NoError(t, err)
	require.NotNil(t, enc)

	var lines []string
	err = drainLines(strings.NewReader(encoded), enc, func(line string) error {
		lines = append(lines, line)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"进程正常结束"}, lines)
}

func TestLookupEncoding(t *testing.T) {
	enc, err := LookupEncoding("")
	require.NoError(t, err)
	assert.Nil(t, enc)

	enc, err = LookupEncoding("utf-8")
	require.NoError(t, err)
	assert.Nil(t, enc)

	_, err = LookupEncoding("klingon")
	assert.Error(t, err)
}
