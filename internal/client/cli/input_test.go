package cli

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rdr(s string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(s))
}

func TestGetSimpleText(t *testing.T) {
	var out bytes.Buffer
	got, err := GetSimpleText(rdr("hello world\n"), "Name?", &out)
	require.NoError(t, err)
	assert.Equal(t, "hello world", got)
	assert.Equal(t, "Name?\n> ", out.String())
}

func TestGetSimpleTextEOF(t *testing.T) {
	var out bytes.Buffer
	got, err := GetSimpleText(rdr("lastline"), "Name?", &out)
	require.NoError(t, err)
	assert.Equal(t, "lastline", got)

	_, err = GetSimpleText(rdr(""), "Name?", &out)
	require.Error(t, err)
}

func TestGetPassword(t *testing.T) {
	old := readPassword
	t.Cleanup(func() { readPassword = old })

	readPassword = func(int) ([]byte, error) { return []byte("s3cret"), nil }
	var out bytes.Buffer
	pw, err := GetPassword(&out)
	require.NoError(t, err)
	assert.Equal(t, []byte("s3cret"), pw)

	readPassword = func(int) ([]byte, error) { return nil, errors.New("boom") }
	_, err = GetPassword(&out)
	require.Error(t, err)
}

func TestGetExamEntries(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []ExamEntry
	}{
		{
			name:     "Unix newlines, stop on empty line",
			input:    "jee=1520\nneet = 88\n\nignored=1\n",
			expected: []ExamEntry{{"jee", 1520}, {"neet", 88}},
		},
		{
			name:     "Windows CRLF",
			input:    "JEE=7\r\n\r\n",
			expected: []ExamEntry{{"jee", 7}},
		},
		{
			name:     "Immediate blank line gives empty slice",
			input:    "\n",
			expected: []ExamEntry{},
		},
		{
			name:     "EOF without trailing blank line",
			input:    "jee=1\ngate=2",
			expected: []ExamEntry{{"jee", 1}, {"gate", 2}},
		},
		{
			name:     "Malformed lines are skipped",
			input:    "jee\n=5\njee=abc\njee=-3\ncat=9\n\n",
			expected: []ExamEntry{{"cat", 9}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			got, err := GetExamEntries(rdr(tc.input), &out)
			require.NoError(t, err)
			require.Equal(t, tc.expected, got)
		})
	}
}
