package runner

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/acarl005/stripansi"
	"github.com/resumeapi/suiterun/types"
)

// Marker is a per-case result word printed by the wrapped test runner.
type Marker string

const (
	MarkerPassed  Marker = "PASSED"
	MarkerFailed  Marker = "FAILED"
	MarkerError   Marker = "ERROR"
	MarkerSkipped Marker = "SKIPPED"
	MarkerXFail   Marker = "XFAIL"
	MarkerXPass   Marker = "XPASS"
)

var markerStatus = map[Marker]types.TestStatus{
	MarkerPassed:  types.TestStatusPassed,
	MarkerXFail:   types.TestStatusPassed,
	MarkerXPass:   types.TestStatusPassed,
	MarkerFailed:  types.TestStatusFailed,
	MarkerError:   types.TestStatusFailed,
	MarkerSkipped: types.TestStatusSkipped,
}

// Status maps the marker onto an outcome status.
func (m Marker) Status() types.TestStatus {
	return markerStatus[m]
}

func parseMarker(s string) (Marker, bool) {
	m := Marker(s)
	_, ok := markerStatus[m]
	return m, ok
}

// collectionSignals are output fragments meaning the runner never got to
// execute the selected tests.
var collectionSignals = []string{
	"ERROR collecting",
	"errors during collection",
	"ImportError while importing test module",
	"no tests ran",
}

// ParseMarkerLine extracts a node id and its marker from one output line.
// Both "path::test MARKER" and "MARKER path::test" forms are recognized.
func ParseMarkerLine(line string) (nodeID string, marker Marker, ok bool) {
	fields := strings.Fields(stripansi.Strip(line))
	for i, f := range fields {
		if !strings.Contains(f, "::") {
			continue
		}
		if i+1 < len(fields) {
			if m, isMarker := parseMarker(fields[i+1]); isMarker {
				return f, m, true
			}
		}
		if i > 0 {
			if m, isMarker := parseMarker(fields[i-1]); isMarker {
				return f, m, true
			}
		}
		return "", "", false
	}
	return "", "", false
}

// MethodName returns the last node of an id with any parameter suffix removed,
// so "a.py::TestA::test_x[case-1]" becomes "test_x".
func MethodName(nodeID string) string {
	parts := strings.Split(nodeID, "::")
	name := parts[len(parts)-1]
	if i := strings.Index(name, "["); i > 0 {
		name = name[:i]
	}
	return name
}

// MarkerTable is the explicit method name to test id mapping of one batch.
type MarkerTable struct {
	byMethod map[string]string
	ids      []string
}

// NewMarkerTable builds the mapping for the given batch members.
func NewMarkerTable(cases []types.TestCase) (*MarkerTable, error) {
	t := &MarkerTable{byMethod: make(map[string]string, len(cases))}
	for _, tc := range cases {
		if tc.Method == "" {
			return nil, fmt.Errorf("test %s has no method name", tc.ID)
		}
		if other, dup := t.byMethod[tc.Method]; dup {
			return nil, fmt.Errorf("method %s maps to both %s and %s", tc.Method, other, tc.ID)
		}
		t.byMethod[tc.Method] = tc.ID
		t.ids = append(t.ids, tc.ID)
	}
	return t, nil
}

// Lookup returns the id mapped to a method name.
func (t *MarkerTable) Lookup(method string) (string, bool) {
	id, ok := t.byMethod[method]
	return id, ok
}

// Methods returns the mapped method names in table order.
func (t *MarkerTable) Methods() []string {
	reverse := make(map[string]string, len(t.byMethod))
	for method, id := range t.byMethod {
		reverse[id] = method
	}
	out := make([]string, 0, len(t.ids))
	for _, id := range t.ids {
		out = append(out, reverse[id])
	}
	return out
}

// Attribution is the result of matching batch output against a MarkerTable.
type Attribution struct {
	// Statuses holds one status per id that had at least one marker
	Statuses map[string]types.TestStatus
	// Missing lists mapped ids without any marker, in table order
	Missing []string
	// Unmapped lists method names that had markers but no mapping
	Unmapped []string
	// CollectionErrors holds lines showing the runner failed to collect tests
	CollectionErrors []string
}

// Attribute scans combined output line by line. Results for the same id are
// merged so that any failure wins over a pass, and a pass wins over a skip.
func (t *MarkerTable) Attribute(r io.Reader) (*Attribution, error) {
	a := &Attribution{Statuses: make(map[string]types.TestStatus)}
	seenUnmapped := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		for _, signal := range collectionSignals {
			if strings.Contains(line, signal) {
				a.CollectionErrors = append(a.CollectionErrors, strings.TrimSpace(stripansi.Strip(line)))
				break
			}
		}

		nodeID, marker, ok := ParseMarkerLine(line)
		if !ok {
			continue
		}
		method := MethodName(nodeID)
		id, mapped := t.Lookup(method)
		if !mapped {
			if !seenUnmapped[method] {
				seenUnmapped[method] = true
				a.Unmapped = append(a.Unmapped, method)
			}
			continue
		}
		a.Statuses[id] = mergeStatus(a.Statuses[id], marker.Status())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan batch output: %w", err)
	}

	for _, id := range t.ids {
		if _, ok := a.Statuses[id]; !ok {
			a.Missing = append(a.Missing, id)
		}
	}
	return a, nil
}

var statusRank = map[types.TestStatus]int{
	"":                       0,
	types.TestStatusSkipped:  1,
	types.TestStatusPassed:   2,
	types.TestStatusFailed:   3,
	types.TestStatusTimedOut: 4,
}

func mergeStatus(current, next types.TestStatus) types.TestStatus {
	if statusRank[next] > statusRank[current] {
		return next
	}
	return current
}
