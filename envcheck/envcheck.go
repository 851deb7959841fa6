package envcheck

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/resumeapi/suiterun/registry"
	"github.com/resumeapi/suiterun/testlist"
	"github.com/resumeapi/suiterun/types"
)

// DefaultHealthTimeout bounds a single health endpoint probe.
const DefaultHealthTimeout = 10 * time.Second

// Check is one environment precondition.
type Check interface {
	Name() string
	Run(ctx context.Context) error
}

// Checker runs every configured check and reports all failures at once.
type Checker struct {
	checks []Check
	log    log.Logger
}

type checkerCfg struct {
	checks    []Check
	lookupEnv func(string) (string, bool)
}

type Option func(*checkerCfg)

// WithRequiredEnv requires each variable to be set to a non-empty value.
func WithRequiredEnv(names ...string) Option {
	return func(cfg *checkerCfg) {
		for _, name := range names {
			cfg.checks = append(cfg.checks, &envVarCheck{name: name, lookup: func(n string) (string, bool) {
				return cfg.lookupEnv(n)
			}})
		}
	}
}

// WithExecutable requires a program to be resolvable on PATH.
func WithExecutable(name string) Option {
	return func(cfg *checkerCfg) {
		cfg.checks = append(cfg.checks, &executableCheck{name: name})
	}
}

// WithHealthURL requires a GET of url to answer 2xx.
func WithHealthURL(url string, client *http.Client) Option {
	return func(cfg *checkerCfg) {
		cfg.checks = append(cfg.checks, &healthCheck{url: url, client: client})
	}
}

// WithBatchMapping requires every batch member's method to be defined in the
// batch target, so marker attribution cannot silently come up empty.
func WithBatchMapping(batch types.Batch, members []types.TestCase, workDir string) Option {
	return func(cfg *checkerCfg) {
		cfg.checks = append(cfg.checks, &batchMappingCheck{batch: batch, members: members, workDir: workDir})
	}
}

// WithLookupEnv replaces os.LookupEnv, used by tests.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(cfg *checkerCfg) {
		cfg.lookupEnv = fn
	}
}

// WithCheck adds a custom check.
func WithCheck(c Check) Option {
	return func(cfg *checkerCfg) {
		cfg.checks = append(cfg.checks, c)
	}
}

func New(logger log.Logger, opts ...Option) *Checker {
	cfg := &checkerCfg{lookupEnv: os.LookupEnv}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Checker{
		checks: cfg.checks,
		log:    logger.New("component", "envcheck"),
	}
}

// Len returns the number of configured checks.
func (c *Checker) Len() int {
	if c == nil {
		return 0
	}
	return len(c.checks)
}

// Run executes all checks in order and joins their failures.
func (c *Checker) Run(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for _, check := range c.checks {
		if err := check.Run(ctx); err != nil {
			c.log.Error("Environment check failed", "check", check.Name(), "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", check.Name(), err))
			continue
		}
		c.log.Debug("Environment check passed", "check", check.Name())
	}
	return errors.Join(errs...)
}

// ForPlan derives the checks a plan needs before any test is spawned: the
// required variables of every planned stage, the executables the commands
// start with, and the mapping of every planned batch.
func ForPlan(reg *registry.Registry, plan []types.TestCase, workDir string) []Option {
	var (
		opts        []Option
		env         []string
		executables []string
		categories  []types.Category
		batchOrder  []string
	)
	members := make(map[string][]types.TestCase)

	for _, tc := range plan {
		if !slices.Contains(categories, tc.Category) {
			categories = append(categories, tc.Category)
			for _, name := range reg.Stage(tc.Category).RequiredEnv {
				if !slices.Contains(env, name) {
					env = append(env, name)
				}
			}
		}
		if len(tc.Command) > 0 && !slices.Contains(executables, tc.Command[0]) {
			executables = append(executables, tc.Command[0])
		}
		if tc.InBatch() {
			if _, ok := members[tc.Batch]; !ok {
				batchOrder = append(batchOrder, tc.Batch)
			}
			members[tc.Batch] = append(members[tc.Batch], tc)
		}
	}

	if len(env) > 0 {
		opts = append(opts, WithRequiredEnv(env...))
	}
	for _, name := range executables {
		opts = append(opts, WithExecutable(name))
	}
	for _, id := range batchOrder {
		if batch, ok := reg.Batch(id); ok && batch.Target != "" {
			opts = append(opts, WithBatchMapping(batch, members[id], workDir))
		}
	}
	return opts
}

// StageHealthCheck returns a precondition that probes a stage's health URL
// right before the stage starts. Stages without a health URL always pass.
func StageHealthCheck(client *http.Client) func(ctx context.Context, stage registry.StageConfig) error {
	return func(ctx context.Context, stage registry.StageConfig) error {
		url := stage.ExpandedHealthURL()
		if url == "" {
			return nil
		}
		return (&healthCheck{url: url, client: client}).Run(ctx)
	}
}

type envVarCheck struct {
	name   string
	lookup func(string) (string, bool)
}

func (c *envVarCheck) Name() string { return "env " + c.name }

func (c *envVarCheck) Run(context.Context) error {
	v, ok := c.lookup(c.name)
	if !ok || strings.TrimSpace(v) == "" {
		return fmt.Errorf("required environment variable %s is not set", c.name)
	}
	return nil
}

type executableCheck struct {
	name string
}

func (c *executableCheck) Name() string { return "executable " + c.name }

func (c *executableCheck) Run(context.Context) error {
	if _, err := exec.LookPath(c.name); err != nil {
		return fmt.Errorf("cannot find %s: %w", c.name, err)
	}
	return nil
}

type healthCheck struct {
	url    string
	client *http.Client
}

func (c *healthCheck) Name() string { return "health " + c.url }

func (c *healthCheck) Run(ctx context.Context) error {
	client := c.client
	if client == nil {
		client = &http.Client{Timeout: DefaultHealthTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("invalid health url %q: %w", c.url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health endpoint returned %s", resp.Status)
	}
	return nil
}

type batchMappingCheck struct {
	batch   types.Batch
	members []types.TestCase
	workDir string
}

func (c *batchMappingCheck) Name() string { return "batch " + c.batch.ID }

func (c *batchMappingCheck) Run(context.Context) error {
	defined, err := testlist.FindTestFunctions(c.batch.Target, c.workDir)
	if err != nil {
		return err
	}
	var missing []string
	for _, tc := range c.members {
		if !slices.Contains(defined, tc.Method) {
			missing = append(missing, fmt.Sprintf("%s (%s)", tc.Method, tc.ID))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("methods not defined in %s: %s", c.batch.Target, strings.Join(missing, ", "))
	}
	return nil
}
