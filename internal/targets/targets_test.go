package targets

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseSkipsCommentsAndDuplicates(t *testing.T) {
	input := `
# ground stations
10.0.0.1
10.0.0.2   # lab router

10.0.0.1
`
	got, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(got) != 2 || got[0] != "10.0.0.1" || got[1] != "10.0.0.2" {
		t.Fatalf("unexpected targets: %v", got)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.txt")
	if err := os.WriteFile(path, []byte("# nothing here\n"), 0o600); err != nil {
		t.Fatalf("write targets: %v", err)
	}
	if _, err := Load(path); !errors.Is(err, ErrNoTargets) {
		t.Fatalf("expected ErrNoTargets, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.txt")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestParseCohorts(t *testing.T) {
	input := `
192.0.2.10
[Ground]
192.0.2.1
192.0.2.1
[satellite]
# starlink pops
198.51.100.7
[empty]
`
	cohorts, err := ParseCohorts(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseCohorts returned error: %v", err)
	}
	if len(cohorts) != 3 {
		t.Fatalf("expected 3 cohorts, got %+v", cohorts)
	}
	if cohorts[0].Name != DefaultCohort || cohorts[0].Targets[0] != "192.0.2.10" {
		t.Fatalf("unexpected default cohort: %+v", cohorts[0])
	}
	if cohorts[1].Name != "ground" || len(cohorts[1].Targets) != 1 {
		t.Fatalf("unexpected ground cohort: %+v", cohorts[1])
	}
	if cohorts[2].Name != "satellite" || cohorts[2].Targets[0] != "198.51.100.7" {
		t.Fatalf("unexpected satellite cohort: %+v", cohorts[2])
	}
}

func TestParseCohortsRejectsEmptyHeader(t *testing.T) {
	if _, err := ParseCohorts(strings.NewReader("[ ]\n10.0.0.1\n")); err == nil {
		t.Fatalf("expected error for empty cohort header")
	}
}

func TestParseCohortsRejectsPathNames(t *testing.T) {
	for _, header := range []string{"[../../escaped]", "[a/../b]", "[..]", "[.hidden]", `[a\b]`, "[two words]"} {
		if _, err := ParseCohorts(strings.NewReader(header + "\n192.0.2.1\n")); err == nil {
			t.Fatalf("expected %s to be rejected", header)
		}
	}
	cohorts, err := ParseCohorts(strings.NewReader("[B]\n192.0.2.1\n[b]\n192.0.2.2\n"))
	if err != nil {
		t.Fatalf("ParseCohorts returned error: %v", err)
	}
	if len(cohorts) != 1 || len(cohorts[0].Targets) != 2 {
		t.Fatalf("expected headers differing only in case to merge, got %+v", cohorts)
	}
}
