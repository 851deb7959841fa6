package ui

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildBoxHeader(t *testing.T) {
	tests := []struct {
		name      string
		title     string
		width     int
		wantWidth int
	}{
		{name: "fits", title: "Report", width: 20, wantWidth: 20},
		{name: "grows to fit title", title: "A rather long report title", width: 10, wantWidth: 30},
		{name: "multibyte title", title: "Résumé", width: 12, wantWidth: 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := BuildBoxHeader(tt.title, tt.width)
			lines := strings.Split(strings.TrimSuffix(header, "\n"), "\n")
			require.Len(t, lines, 3)
			for _, l := range lines {
				assert.Equal(t, tt.wantWidth, utf8.RuneCountInString(l), "line %q", l)
			}
			assert.True(t, strings.HasPrefix(lines[0], BoxTopLeft))
			assert.Contains(t, lines[1], tt.title)
			assert.True(t, strings.HasSuffix(lines[2], BoxTeeLeft))
		})
	}
}

func TestBuildBoxLine(t *testing.T) {
	line := BuildBoxLine("short", 12)
	assert.Equal(t, "│ short    │\n", line)

	truncated := BuildBoxLine("this content is too long", 12)
	assert.Equal(t, "│ this ... │\n", truncated)
	assert.Equal(t, 13, utf8.RuneCountInString(truncated))
}

func TestBuildBoxFooter(t *testing.T) {
	assert.Equal(t, "└────┘\n", BuildBoxFooter(6))
}

func TestBuildBox(t *testing.T) {
	box := BuildBox("Run", []string{"one", "two"}, 10)
	lines := strings.Split(strings.TrimSuffix(box, "\n"), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "│ one    │", lines[3])
	assert.Equal(t, "└────────┘", lines[5])
}

func TestBuildTreeLines(t *testing.T) {
	assert.Equal(t, "root", BuildTreeLines("root", nil))
	assert.Equal(t, "batch\n├── A\n└── B", BuildTreeLines("batch", []string{"A", "B"}))
}

func TestRepeatString(t *testing.T) {
	assert.Equal(t, "", repeatString("─", 0))
	assert.Equal(t, "", repeatString("─", -2))
	assert.Equal(t, "───", repeatString("─", 3))
}
