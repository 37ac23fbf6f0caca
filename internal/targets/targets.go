// Package targets reads the plain and sectioned target lists.
package targets

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultCohort names addresses listed before the first section header.
const DefaultCohort = "default"

var ErrNoTargets = errors.New("no targets")

// Cohort names become directory names, so they are restricted to a single
// safe path element.
var cohortNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// Cohort is a named group of targets whose results are written separately.
type Cohort struct {
	Name    string
	Targets []string
}

// Load reads one address per line. Blank lines and # comments are ignored.
func Load(path string) ([]string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open target file %q: %w", path, err)
	}
	defer f.Close()

	targets, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("read target file %q: %w", path, err)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("target file %q: %w", path, ErrNoTargets)
	}
	return targets, nil
}

func Parse(r io.Reader) ([]string, error) {
	var out []string
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := clean(scanner.Text())
		if line == "" || isSection(line) {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out, scanner.Err()
}

// LoadCohorts reads a sectioned list:
//
//	[ground]
//	192.0.2.1
//	[satellite]
//	198.51.100.7
func LoadCohorts(path string) ([]Cohort, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open cohort file %q: %w", path, err)
	}
	defer f.Close()

	cohorts, err := ParseCohorts(f)
	if err != nil {
		return nil, fmt.Errorf("read cohort file %q: %w", path, err)
	}
	if len(cohorts) == 0 {
		return nil, fmt.Errorf("cohort file %q: %w", path, ErrNoTargets)
	}
	return cohorts, nil
}

func ParseCohorts(r io.Reader) ([]Cohort, error) {
	var (
		order   []string
		members = make(map[string][]string)
		seen    = make(map[string]map[string]struct{})
		current = DefaultCohort
	)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := clean(scanner.Text())
		if line == "" {
			continue
		}
		if isSection(line) {
			name := strings.TrimSpace(line[1 : len(line)-1])
			if name == "" {
				return nil, fmt.Errorf("empty cohort name in %q", line)
			}
			current = strings.ToLower(name)
			if !cohortNamePattern.MatchString(current) {
				return nil, fmt.Errorf("invalid cohort name %q: use letters, digits, '.', '_' or '-'", name)
			}
			continue
		}
		if seen[current] == nil {
			seen[current] = make(map[string]struct{})
			order = append(order, current)
		}
		if _, dup := seen[current][line]; dup {
			continue
		}
		seen[current][line] = struct{}{}
		members[current] = append(members[current], line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	cohorts := make([]Cohort, 0, len(order))
	for _, name := range order {
		cohorts = append(cohorts, Cohort{Name: name, Targets: members[name]})
	}
	return cohorts, nil
}

func clean(line string) string {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}

func isSection(line string) bool {
	return len(line) >= 2 && line[0] == '[' && line[len(line)-1] == ']'
}
