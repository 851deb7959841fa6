package envcheck

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/resumeapi/suiterun/registry"
	"github.com/resumeapi/suiterun/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() log.Logger {
	return log.NewLogger(log.DiscardHandler())
}

func fakeEnv(values map[string]string) Option {
	return WithLookupEnv(func(name string) (string, bool) {
		v, ok := values[name]
		return v, ok
	})
}

func TestRequiredEnv(t *testing.T) {
	c := New(discard(),
		WithRequiredEnv("API_BASE_URL", "AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT"),
		fakeEnv(map[string]string{"API_BASE_URL": "http://localhost:8000", "AZURE_OPENAI_API_KEY": "  "}),
	)
	assert.Equal(t, 3, c.Len())

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "API_BASE_URL")
	assert.Contains(t, err.Error(), "AZURE_OPENAI_API_KEY is not set")
	assert.Contains(t, err.Error(), "AZURE_OPENAI_ENDPOINT is not set")
}

func TestExecutable(t *testing.T) {
	require.NoError(t, New(discard(), WithExecutable("sh")).Run(context.Background()))

	err := New(discard(), WithExecutable("definitely-not-installed-runner")).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "executable definitely-not-installed-runner")
}

func TestHealthURL(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	require.NoError(t, New(discard(), WithHealthURL(healthy.URL, nil)).Run(context.Background()))

	err := New(discard(), WithHealthURL(broken.URL, healthy.Client())).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestStageHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	check := StageHealthCheck(srv.Client())
	require.NoError(t, check(context.Background(), registry.StageConfig{Category: types.CategoryUnit}))

	t.Setenv("SUITERUN_TEST_API", srv.URL)
	require.NoError(t, check(context.Background(), registry.StageConfig{HealthURL: "${SUITERUN_TEST_API}/health"}))
	require.Error(t, check(context.Background(), registry.StageConfig{HealthURL: "${SUITERUN_TEST_API}/missing"}))
}

type staticCheck struct{ err error }

func (c staticCheck) Name() string { return "static" }
func (c staticCheck) Run(context.Context) error { return c.err }

func TestRunJoinsFailures(t *testing.T) {
	var nilChecker *Checker
	require.NoError(t, nilChecker.Run(context.Background()))

	first := errors.New("first")
	second := errors.New("second")
	err := New(discard(), WithCheck(staticCheck{err: first}), WithCheck(staticCheck{}), WithCheck(staticCheck{err: second})).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, second)
}

const planRegistry = `
version: 1.0.0
runner: "sh -c true"
stages:
  - category: unit
  - category: performance
    required_env: [API_BASE_URL]
batches:
  - id: gap
    category: unit
    target: tests/test_gap.py
tests:
  - id: G-1
    category: unit
    priority: P0
    module: gap
    batch: gap
    method: test_one
  - id: G-2
    category: unit
    priority: P1
    module: gap
    batch: gap
    method: test_two
  - id: P-1
    category: performance
    priority: P0
    module: perf
    command: "python -m pytest tests/test_perf.py"
`

func TestForPlan(t *testing.T) {
	workDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workDir, "tests"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "tests", "test_gap.py"), []byte("def test_one():\n    pass\n"), 0644))

	reg, err := registry.NewRegistryFromBytes(registry.Config{Log: discard()}, "plan.yaml", []byte(planRegistry))
	require.NoError(t, err)
	plan := reg.Tests()

	opts := append(ForPlan(reg, plan, workDir), fakeEnv(map[string]string{}))
	c := New(discard(), opts...)
	// env var, sh, python, batch mapping
	assert.Equal(t, 4, c.Len())

	err = c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API_BASE_URL is not set")
	assert.Contains(t, err.Error(), "test_two (G-2)")
	assert.NotContains(t, err.Error(), "test_one")

	unitOnly := New(discard(), ForPlan(reg, plan[:2], workDir)...)
	assert.Equal(t, 2, unitOnly.Len())
}
