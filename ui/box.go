package ui

import (
	"strings"
	"unicode/utf8"
)

// Box drawing characters
const (
	BoxTopLeft     = "┌"
	BoxTopRight    = "┐"
	BoxBottomLeft  = "└"
	BoxBottomRight = "┘"
	BoxVertical    = "│"
	BoxHorizontal  = "─"
	BoxTeeRight    = "├"
	BoxTeeLeft     = "┤"

	TreeBranch     = "├── "
	TreeLastBranch = "└── "
)

// BuildBoxHeader creates the top border, a title line and a separator.
// The width grows to fit the title.
func BuildBoxHeader(title string, width int) string {
	titleLen := utf8.RuneCountInString(title)
	if width < titleLen+4 {
		width = titleLen + 4
	}
	padding := width - 4 - titleLen

	var sb strings.Builder
	sb.WriteString(BoxTopLeft + repeatString(BoxHorizontal, width-2) + BoxTopRight + "\n")
	sb.WriteString(BoxVertical + " " + title + repeatString(" ", padding+1) + BoxVertical + "\n")
	sb.WriteString(BoxTeeRight + repeatString(BoxHorizontal, width-2) + BoxTeeLeft + "\n")
	return sb.String()
}

// BuildBoxFooter creates the bottom border
func BuildBoxFooter(width int) string {
	return BoxBottomLeft + repeatString(BoxHorizontal, width-2) + BoxBottomRight + "\n"
}

// BuildBoxLine creates a content line, truncating by runes with "..." when
// the content does not fit.
func BuildBoxLine(content string, width int) string {
	contentLen := utf8.RuneCountInString(content)
	maxContentLen := width - 4

	if contentLen > maxContentLen {
		runes := []rune(content)
		content = string(runes[:maxContentLen-3]) + "..."
		contentLen = maxContentLen
	}

	padding := maxContentLen - contentLen
	return BoxVertical + " " + content + repeatString(" ", padding+1) + BoxVertical + "\n"
}

// BuildBox renders a complete box with a title and one line per entry.
func BuildBox(title string, lines []string, width int) string {
	titleLen := utf8.RuneCountInString(title)
	if width < titleLen+4 {
		width = titleLen + 4
	}
	var sb strings.Builder
	sb.WriteString(BuildBoxHeader(title, width))
	for _, l := range lines {
		sb.WriteString(BuildBoxLine(l, width))
	}
	sb.WriteString(BuildBoxFooter(width))
	return sb.String()
}

// BuildTreeLines renders root followed by its children as a one level tree.
func BuildTreeLines(root string, children []string) string {
	lines := make([]string, 0, len(children)+1)
	lines = append(lines, root)
	for i, c := range children {
		prefix := TreeBranch
		if i == len(children)-1 {
			prefix = TreeLastBranch
		}
		lines = append(lines, prefix+c)
	}
	return strings.Join(lines, "\n")
}

func repeatString(s string, n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat(s, n)
}
