package logging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

const (
	// TimestampFormat is embedded in every artifact name.
	TimestampFormat = "20060102_150405"

	// DefaultKeep is how many artifacts of one naming pattern survive a prune.
	DefaultKeep = 5

	// BackgroundRunType names the combined output log of a detached run.
	BackgroundRunType = "background"

	testLogPrefix = "test_"
	logExt        = ".log"
	summaryExt    = ".json"
)

// Artifact is a log file owned by the store.
type Artifact struct {
	Path      string
	CreatedAt time.Time
}

// Pattern identifies one family of artifacts: {Prefix}_{timestamp}[_{n}]{Ext}.
// Retention is always applied per pattern so that concurrent runs of a
// different type are never touched.
type Pattern struct {
	Prefix string
	Ext    string
}

// RunLogPattern matches aggregated run logs of one run type.
func RunLogPattern(runType string) Pattern {
	return Pattern{Prefix: safeFilename(runType), Ext: logExt}
}

// TestLogPattern matches detail logs of one test or batch id.
func TestLogPattern(id string) Pattern {
	return Pattern{Prefix: testLogPrefix + safeFilename(id), Ext: logExt}
}

// SummaryPattern matches JSON summaries of one run type.
func SummaryPattern(runType string) Pattern {
	return Pattern{Prefix: safeFilename(runType) + "_summary", Ext: summaryExt}
}

// BackgroundPattern matches combined logs of detached runs of one run type.
func BackgroundPattern(runType string) Pattern {
	return Pattern{Prefix: BackgroundRunType + "_" + safeFilename(runType), Ext: logExt}
}

func (p Pattern) name(ts time.Time, seq int) string {
	name := p.Prefix + "_" + ts.Format(TimestampFormat)
	if seq > 0 {
		name += "_" + strconv.Itoa(seq)
	}
	return name + p.Ext
}

func (p Pattern) regexp() *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(p.Prefix) + `_(\d{8}_\d{6})(?:_(\d+))?` + regexp.QuoteMeta(p.Ext) + `$`)
}

func (p Pattern) String() string {
	return p.Prefix + "_<timestamp>" + p.Ext
}

// Store manages a directory of timestamped log artifacts.
type Store struct {
	dir  string
	keep int
	log  log.Logger
	now  func() time.Time
}

// NewStore creates the log directory if needed.
func NewStore(dir string, keep int, logger log.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("log directory cannot be empty")
	}
	if keep <= 0 {
		keep = DefaultKeep
	}
	if logger == nil {
		logger = log.New()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}
	return &Store{
		dir:  dir,
		keep: keep,
		log:  logger.New("component", "logstore"),
		now:  time.Now,
	}, nil
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) Keep() int { return s.keep }

// Now returns the store's clock reading.
func (s *Store) Now() time.Time { return s.now() }

// Create opens a fresh artifact for the pattern. Artifacts created within the
// same second get a numeric suffix instead of overwriting each other.
func (s *Store) Create(p Pattern) (*os.File, Artifact, error) {
	ts := s.now()
	for seq := 0; seq < 1000; seq++ {
		path := filepath.Join(s.dir, p.name(ts, seq))
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, Artifact{}, fmt.Errorf("failed to create %s: %w", path, err)
		}
		return f, Artifact{Path: path, CreatedAt: ts}, nil
	}
	return nil, Artifact{}, fmt.Errorf("too many artifacts for %s in one second", p)
}

// CreateTestLog opens a detail log for a test or batch id.
func (s *Store) CreateTestLog(id string) (*os.File, Artifact, error) {
	return s.Create(TestLogPattern(id))
}

// OpenRunLog opens the aggregated run log for a run type.
func (s *Store) OpenRunLog(runType string) (*AsyncFile, Artifact, error) {
	f, artifact, err := s.Create(RunLogPattern(runType))
	if err != nil {
		return nil, Artifact{}, err
	}
	return NewAsyncFile(f), artifact, nil
}

// Remove deletes an artifact. A file that is already gone is not an error.
func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

type listedArtifact struct {
	Artifact
	stamp string
	seq   int
}

// List returns the pattern's artifacts, newest first.
func (s *Store) List(p Pattern) ([]Artifact, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read log directory: %w", err)
	}

	re := p.regexp()
	var found []listedArtifact
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := re.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		created, err := time.ParseInLocation(TimestampFormat, m[1], time.Local)
		if err != nil {
			continue
		}
		seq := 0
		if m[2] != "" {
			seq, _ = strconv.Atoi(m[2])
		}
		found = append(found, listedArtifact{
			Artifact: Artifact{Path: filepath.Join(s.dir, entry.Name()), CreatedAt: created},
			stamp:    m[1],
			seq:      seq,
		})
	}

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].stamp != found[j].stamp {
			return found[i].stamp > found[j].stamp
		}
		return found[i].seq > found[j].seq
	})

	out := make([]Artifact, len(found))
	for i, a := range found {
		out[i] = a.Artifact
	}
	return out, nil
}

// Prune keeps the newest keep artifacts of a pattern and deletes the rest.
// It returns the removed paths.
func (s *Store) Prune(p Pattern, keep int) ([]string, error) {
	if keep <= 0 {
		keep = s.keep
	}
	artifacts, err := s.List(p)
	if err != nil {
		return nil, err
	}
	if len(artifacts) <= keep {
		return nil, nil
	}

	var removed []string
	var errs []error
	for _, a := range artifacts[keep:] {
		if err := s.Remove(a.Path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, a.Path)
	}
	if len(removed) > 0 {
		s.log.Debug("Pruned log artifacts", "pattern", p.String(), "removed", len(removed), "kept", keep)
	}
	return removed, errors.Join(errs...)
}

// PruneAll applies retention to several patterns and joins the errors.
func (s *Store) PruneAll(patterns ...Pattern) ([]string, error) {
	var removed []string
	var errs []error
	for _, p := range patterns {
		r, err := s.Prune(p, s.keep)
		removed = append(removed, r...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return removed, errors.Join(errs...)
}

// safeFilename replaces characters that are awkward in file names.
func safeFilename(s string) string {
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_", " ", "_",
	)
	return strings.ReplaceAll(replacer.Replace(s), "...", "")
}
