package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/resumeapi/suiterun/types"
)

// SelectorKind identifies how a Selector picks test cases.
type SelectorKind int

const (
	SelectAll SelectorKind = iota
	SelectCategory
	SelectIDs
	SelectAlias
)

func (k SelectorKind) String() string {
	switch k {
	case SelectAll:
		return "all"
	case SelectCategory:
		return "category"
	case SelectIDs:
		return "ids"
	case SelectAlias:
		return "alias"
	}
	return "unknown"
}

// Selector describes a subset of the registry. Values are kept raw and only
// validated by Resolve.
type Selector struct {
	Kind     SelectorKind
	Category string
	IDs      []string
	Alias    string
	// Scope restricts alias resolution to one category when set.
	Scope types.Category
}

// All selects every registered test.
func All() Selector {
	return Selector{Kind: SelectAll}
}

// ForCategory selects one stage.
func ForCategory(category string) Selector {
	return Selector{Kind: SelectCategory, Category: category}
}

// ForIDs selects an explicit list of ids.
func ForIDs(ids ...string) Selector {
	return Selector{Kind: SelectIDs, IDs: ids}
}

// ForAlias selects a single test by shortcut alias or id within a category.
func ForAlias(scope types.Category, alias string) Selector {
	return Selector{Kind: SelectAlias, Alias: alias, Scope: scope}
}

func (s Selector) String() string {
	switch s.Kind {
	case SelectCategory:
		return "category=" + s.Category
	case SelectIDs:
		return "ids=" + strings.Join(s.IDs, ",")
	case SelectAlias:
		if s.Scope != "" {
			return fmt.Sprintf("alias=%s(%s)", s.Alias, s.Scope)
		}
		return "alias=" + s.Alias
	}
	return "all"
}

// UnknownSelectorError is returned when a selector names something the
// registry does not know.
type UnknownSelectorError struct {
	Kind  SelectorKind
	Value string
}

func (e *UnknownSelectorError) Error() string {
	return fmt.Sprintf("unknown %s selector %q", e.Kind, e.Value)
}

// IsUnknownSelector checks if the error is or wraps an UnknownSelectorError
func IsUnknownSelector(err error) bool {
	var selErr *UnknownSelectorError
	return err != nil && errors.As(err, &selErr)
}

// Resolve returns the selected test cases in registration order.
func (r *Registry) Resolve(sel Selector) ([]types.TestCase, error) {

	switch sel.Kind {
	case SelectAll:
		out := make([]types.TestCase, len(r.tests))
		copy(out, r.tests)
		return out, nil

	case SelectCategory:
		category, err := types.ParseCategory(sel.Category)
		if err != nil {
			return nil, &UnknownSelectorError{Kind: SelectCategory, Value: sel.Category}
		}
		var out []types.TestCase
		for _, tc := range r.tests {
			if tc.Category == category {
				out = append(out, tc)
			}
		}
		return out, nil

	case SelectIDs:
		wanted := make(map[string]bool, len(sel.IDs))
		for _, id := range sel.IDs {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			tc, ok := r.Lookup(id)
			if !ok {
				return nil, &UnknownSelectorError{Kind: SelectIDs, Value: id}
			}
			wanted[tc.ID] = true
		}
		var out []types.TestCase
		for _, tc := range r.tests {
			if wanted[tc.ID] {
				out = append(out, tc)
			}
		}
		return out, nil

	case SelectAlias:
		key := strings.ToLower(strings.TrimSpace(sel.Alias))
		idx, ok := r.aliases[key]
		if !ok {
			idx, ok = r.byID[key]
		}
		if !ok || (sel.Scope != "" && r.tests[idx].Category != sel.Scope) {
			return nil, &UnknownSelectorError{Kind: SelectAlias, Value: sel.Alias}
		}
		return []types.TestCase{r.tests[idx]}, nil
	}

	return nil, &UnknownSelectorError{Kind: sel.Kind, Value: sel.String()}
}

// Expected returns how many tests a selector should execute. Category
// selections use the stage's declared count when present so that a registry
// missing entries is reported as a shortfall.
func (r *Registry) Expected(sel Selector, resolved []types.TestCase) int {
	switch sel.Kind {
	case SelectCategory:
		category, err := types.ParseCategory(sel.Category)
		if err != nil {
			return 0
		}
		return r.expectedFor(category, resolved)
	case SelectAll:
		total := 0
		for _, category := range types.Categories {
			total += r.expectedFor(category, resolved)
		}
		return total
	}
	return len(resolved)
}

func (r *Registry) expectedFor(category types.Category, resolved []types.TestCase) int {
	if stage := r.Stage(category); stage.Expected > 0 {
		return stage.Expected
	}
	n := 0
	for _, tc := range resolved {
		if tc.Category == category {
			n++
		}
	}
	return n
}
