package registry

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/kballard/go-shellquote"
	"github.com/resumeapi/suiterun/types"
	"golang.org/x/mod/semver"
)

// DefaultSource names the registry compiled into the binary.
const DefaultSource = "embedded:default.yaml"

//go:embed default.yaml
var defaultRegistry []byte

// Registry is the static table of test cases, batches and stage policies.
// It is populated once at startup and never mutated afterwards.
type Registry struct {
	config  Config
	version string
	tests   []types.TestCase
	byID    map[string]int // lower-cased id -> index into tests
	aliases map[string]int // lower-cased alias -> index into tests
	batches map[string]types.Batch
	stages  map[types.Category]StageConfig
}

// Config contains registry configuration
type Config struct {
	Log            log.Logger
	File           string // empty selects the embedded registry
	DefaultTimeout time.Duration
}

// NewRegistry creates a new registry instance
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = types.DefaultTestTimeout
	}

	name := cfg.File
	data := defaultRegistry
	if name == "" {
		name = DefaultSource
	} else {
		var err error
		data, err = os.ReadFile(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("reading registry file: %w", err)
		}
	}

	return newRegistry(cfg, name, data)
}

// NewRegistryFromBytes builds a registry from an in-memory document. The name
// is only used to select the decoder by extension.
func NewRegistryFromBytes(cfg Config, name string, data []byte) (*Registry, error) {
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = types.DefaultTestTimeout
	}
	return newRegistry(cfg, name, data)
}

func newRegistry(cfg Config, name string, data []byte) (*Registry, error) {
	fc, err := decodeConfig(name, data)
	if err != nil {
		return nil, err
	}

	r := &Registry{config: cfg}
	if err := r.load(fc); err != nil {
		return nil, fmt.Errorf("failed to load registry %s: %w", name, err)
	}

	cfg.Log.Debug("Registry loaded", "source", name, "version", r.version, "tests", len(r.tests), "batches", len(r.batches))
	return r, nil
}

func (r *Registry) load(fc *fileConfig) error {
	version, err := normalizeVersion(fc.Version)
	if err != nil {
		return err
	}
	r.version = version

	runner, err := splitCommand(fc.Runner)
	if err != nil {
		return fmt.Errorf("invalid runner command: %w", err)
	}

	defaultTimeout := r.config.DefaultTimeout
	if fc.Defaults.Timeout != nil && *fc.Defaults.Timeout > 0 {
		defaultTimeout = *fc.Defaults.Timeout
	}

	if err := r.loadStages(fc.Stages); err != nil {
		return err
	}
	if err := r.loadBatches(fc.Batches, runner, defaultTimeout); err != nil {
		return err
	}
	return r.loadTests(fc.Tests, runner, defaultTimeout)
}

func (r *Registry) loadStages(stages []StageConfig) error {
	r.stages = make(map[types.Category]StageConfig, len(stages))
	for _, stage := range stages {
		if !stage.Category.IsValid() {
			return fmt.Errorf("stage has unknown category %q", stage.Category)
		}
		if _, dup := r.stages[stage.Category]; dup {
			return fmt.Errorf("stage %s declared twice", stage.Category)
		}
		if stage.Expected < 0 {
			return fmt.Errorf("stage %s has negative expected count", stage.Category)
		}
		r.stages[stage.Category] = stage
	}
	return nil
}

func (r *Registry) loadBatches(batches []batchConfig, runner []string, defaultTimeout time.Duration) error {
	r.batches = make(map[string]types.Batch, len(batches))
	for _, bc := range batches {
		if bc.ID == "" {
			return errors.New("batch without id")
		}
		if _, dup := r.batches[bc.ID]; dup {
			return fmt.Errorf("batch %s declared twice", bc.ID)
		}
		if !bc.Category.IsValid() {
			return fmt.Errorf("batch %s has unknown category %q", bc.ID, bc.Category)
		}
		cmd, err := buildCommand(bc.Command, runner, bc.Target)
		if err != nil {
			return fmt.Errorf("batch %s: %w", bc.ID, err)
		}
		r.batches[bc.ID] = types.Batch{
			ID:       bc.ID,
			Command:  cmd,
			Category: bc.Category,
			Target:   bc.Target,
			Timeout:  r.timeoutFor(bc.Timeout, bc.Category, defaultTimeout),
		}
	}
	return nil
}

func (r *Registry) loadTests(tests []testConfig, runner []string, defaultTimeout time.Duration) error {
	r.tests = make([]types.TestCase, 0, len(tests))
	r.byID = make(map[string]int, len(tests))
	r.aliases = make(map[string]int)
	methods := make(map[string]map[string]string) // batch -> method -> id

	for _, tc := range tests {
		if tc.ID == "" {
			return errors.New("test without id")
		}
		key := strings.ToLower(tc.ID)
		if _, dup := r.byID[key]; dup {
			return fmt.Errorf("test id %s declared twice", tc.ID)
		}
		if !tc.Category.IsValid() {
			return fmt.Errorf("test %s has unknown category %q", tc.ID, tc.Category)
		}
		priority, err := types.ParsePriority(string(tc.Priority))
		if err != nil {
			return fmt.Errorf("test %s: %w", tc.ID, err)
		}

		testCase := types.TestCase{
			ID:          tc.ID,
			Description: tc.Description,
			Category:    tc.Category,
			Priority:    priority,
			Module:      tc.Module,
			Timeout:     r.timeoutFor(tc.Timeout, tc.Category, defaultTimeout),
			Aliases:     tc.Aliases,
		}
		if testCase.Module == "" {
			testCase.Module = "unassigned"
		}

		if tc.Batch != "" {
			batch, ok := r.batches[tc.Batch]
			if !ok {
				return fmt.Errorf("test %s references unknown batch %s", tc.ID, tc.Batch)
			}
			if batch.Category != tc.Category {
				return fmt.Errorf("test %s is %s but batch %s is %s", tc.ID, tc.Category, batch.ID, batch.Category)
			}
			method := tc.Method
			if method == "" {
				method = methodFromTarget(tc.Target)
			}
			if method == "" {
				return fmt.Errorf("test %s in batch %s needs a method or target", tc.ID, tc.Batch)
			}
			if methods[tc.Batch] == nil {
				methods[tc.Batch] = make(map[string]string)
			}
			if other, dup := methods[tc.Batch][method]; dup {
				return fmt.Errorf("method %s in batch %s maps to both %s and %s", method, tc.Batch, other, tc.ID)
			}
			methods[tc.Batch][method] = tc.ID
			batch.Size++
			r.batches[tc.Batch] = batch
			testCase.Batch = tc.Batch
			testCase.Method = method
		}

		// Batch members still get a standalone command so retries and
		// explicit id selection can run them on their own.
		target := tc.Target
		if target == "" && testCase.Batch != "" {
			target = r.batches[testCase.Batch].Target + "::" + testCase.Method
		}
		cmd, err := buildCommand(tc.Command, runner, target)
		if err != nil {
			return fmt.Errorf("test %s: %w", tc.ID, err)
		}
		testCase.Command = cmd

		r.byID[key] = len(r.tests)
		r.tests = append(r.tests, testCase)
	}

	for i, tc := range r.tests {
		for _, alias := range tc.Aliases {
			key := strings.ToLower(alias)
			if key == "" {
				return fmt.Errorf("test %s has an empty alias", tc.ID)
			}
			if _, clash := r.byID[key]; clash {
				return fmt.Errorf("alias %s of test %s collides with a test id", alias, tc.ID)
			}
			if other, dup := r.aliases[key]; dup {
				return fmt.Errorf("alias %s used by both %s and %s", alias, r.tests[other].ID, tc.ID)
			}
			r.aliases[key] = i
		}
	}
	return nil
}

func (r *Registry) timeoutFor(explicit *time.Duration, category types.Category, fallback time.Duration) time.Duration {
	if explicit != nil && *explicit > 0 {
		return *explicit
	}
	if stage, ok := r.stages[category]; ok && stage.Timeout != nil && *stage.Timeout > 0 {
		return *stage.Timeout
	}
	return fallback
}

// Version returns the semantic version declared by the registry.
func (r *Registry) Version() string {
	return r.version
}

// Tests returns every registered test case in registration order.
func (r *Registry) Tests() []types.TestCase {
	out := make([]types.TestCase, len(r.tests))
	copy(out, r.tests)
	return out
}

// Lookup finds a test case by id, ignoring case.
func (r *Registry) Lookup(id string) (types.TestCase, bool) {
	idx, ok := r.byID[strings.ToLower(id)]
	if !ok {
		return types.TestCase{}, false
	}
	return r.tests[idx], true
}

// Batch returns the batch with the given id.
func (r *Registry) Batch(id string) (types.Batch, bool) {
	b, ok := r.batches[id]
	return b, ok
}

// Stage returns the policy for a category. Categories without an explicit
// stage entry get a zero policy.
func (r *Registry) Stage(category types.Category) StageConfig {
	if stage, ok := r.stages[category]; ok {
		return stage
	}
	return StageConfig{Category: category}
}

func normalizeVersion(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", errors.New("registry version is required")
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "", fmt.Errorf("registry version %q is not a semantic version", v)
	}
	return semver.Canonical(v), nil
}

func splitCommand(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	return shellquote.Split(s)
}

// buildCommand prefers an explicit command and falls back to runner + target.
func buildCommand(explicit string, runner []string, target string) ([]string, error) {
	if explicit != "" {
		argv, err := splitCommand(explicit)
		if err != nil {
			return nil, fmt.Errorf("invalid command: %w", err)
		}
		return argv, nil
	}
	if len(runner) == 0 {
		return nil, errors.New("no command and no runner configured")
	}
	if target == "" {
		return nil, errors.New("no command and no target configured")
	}
	argv := make([]string, 0, len(runner)+1)
	argv = append(argv, runner...)
	return append(argv, target), nil
}

// methodFromTarget returns the last node of a runner target such as
// "tests/test_x.py::TestX::test_y".
func methodFromTarget(target string) string {
	if !strings.Contains(target, "::") {
		return ""
	}
	parts := strings.Split(target, "::")
	return parts[len(parts)-1]
}

func expandEnv(s string) string {
	return os.ExpandEnv(s)
}
