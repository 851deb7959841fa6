package testlist

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// testDefRegex matches pytest collectable function definitions, including
// methods indented inside a Test class.
var testDefRegex = regexp.MustCompile(`^\s*(?:async\s+)?def\s+(test\w*)\s*\(`)

// SplitTarget separates "path/file.py::Class::method" into the file path and
// the node suffix.
func SplitTarget(target string) (path string, node string) {
	path, node, _ = strings.Cut(target, "::")
	return path, node
}

// FindTestFunctions returns the test function names defined in a pytest
// target, resolved against workingDir. A target may name a file, a
// file::node, or a directory of test_*.py files.
func FindTestFunctions(target string, workingDir string) ([]string, error) {
	path, _ := SplitTarget(target)
	if path == "" {
		return nil, fmt.Errorf("empty test target")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(workingDir, path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat test target: %w", err)
	}

	files := []string{path}
	if info.IsDir() {
		files, err = FindTestFiles(path)
		if err != nil {
			return nil, err
		}
	}

	var testFunctions []string
	seen := make(map[string]bool)
	for _, file := range files {
		names, err := scanFile(file)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			if !seen[name] {
				seen[name] = true
				testFunctions = append(testFunctions, name)
			}
		}
	}
	return testFunctions, nil
}

// FindTestFiles lists test_*.py and *_test.py files below dir, sorted.
func FindTestFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != dir && (strings.HasPrefix(name, ".") || name == "__pycache__") {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if strings.HasSuffix(name, ".py") && (strings.HasPrefix(name, "test_") || strings.HasSuffix(name, "_test.py")) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk test directory %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

func scanFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if m := testDefRegex.FindStringSubmatch(scanner.Text()); m != nil {
			names = append(names, m[1])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return names, nil
}
