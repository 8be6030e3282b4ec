package normalize

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/WessleyAI/axlelore-kb/engine/domain"
	"github.com/WessleyAI/axlelore-kb/engine/vehicle"
)

const seedProfile = `
vehicle_type: testrig
name: Test Rig
engine:
  code: 1FZ-FE
  type: Inline 6
  displacement_l: 4.5
  displacement_cc: 4477
  fluids:
    oil:
      capacity_qt: 8.5
      viscosity: 10W-30
tires:
  oem_size: 275/70R16
  alternatives:
    - size: 285/75R16
      notes: needs minor trimming
common_issues:
  - code: HEAD_GASKET
    description: Head gasket failure
    severity: high
    typical_cost_range: [1500, 3000]
    symptoms: [white smoke, coolant loss]
modifications:
  suspension:
    - name: OME Lift Kit
      lift_height: 2.5 inches
      vendor: ARB
`

func seedRegistry(t *testing.T) *vehicle.Registry {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "testrig.yaml"), []byte(seedProfile), 0o644); err != nil {
		t.Fatal(err)
	}
	return vehicle.NewRegistry(dir)
}

func TestSeedProcess(t *testing.T) {
	s := Seed{Opts: Options{Vehicle: "testrig"}, Profiles: seedRegistry(t)}
	docs, err := s.Process(context.Background(), "ignored")
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, d := range docs {
		ids = append(ids, d.SourceID)
		if d.Source != domain.SourceYAML || d.QualityScore != SeedQuality {
			t.Errorf("%s: source %s quality %v", d.SourceID, d.Source, d.QualityScore)
		}
		if d.Metadata["vehicle_type"] != "testrig" {
			t.Errorf("%s: metadata = %v", d.SourceID, d.Metadata)
		}
	}
	want := []string{"engine_specs", "engine_fluid_oil", "tires", "issue_head_gasket", "mod_suspension_ome_lift_kit"}
	if !slices.Equal(ids, want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}

	byID := map[string]domain.Document{}
	for _, d := range docs {
		byID[d.SourceID] = d
	}
	checks := []struct {
		id       string
		category domain.Category
		contains []string
	}{
		{"engine_specs", domain.CategoryEngine, []string{"Test Rig Engine Specifications (1FZ-FE)", "Displacement: 4.5L (4477cc)"}},
		{"engine_fluid_oil", domain.CategoryEngine, []string{"Capacity Qt: 8.5", "Viscosity: 10W-30"}},
		{"tires", domain.CategoryChassis, []string{"OEM Size: 275/70R16", "Front Pressure: N/A psi", "285/75R16: needs minor trimming"}},
		{"issue_head_gasket", domain.CategoryForumTroubleshoot, []string{"Typical Cost: $1,500 - $3,000", "  - white smoke"}},
		{"mod_suspension_ome_lift_kit", domain.CategoryForumMods, []string{"Category: Suspension", "Lift Height: 2.5 inches", "Vendor: ARB"}},
	}
	for _, c := range checks {
		d := byID[c.id]
		if d.Category != c.category {
			t.Errorf("%s: category %s, want %s", c.id, d.Category, c.category)
		}
		for _, s := range c.contains {
			if !strings.Contains(d.Content, s) {
				t.Errorf("%s: missing %q in\n%s", c.id, s, d.Content)
			}
		}
	}
	if byID["issue_head_gasket"].Title != "Common Issue: Head Gasket" {
		t.Errorf("issue title = %q", byID["issue_head_gasket"].Title)
	}
}

func TestSeedUnknownVehicle(t *testing.T) {
	s := Seed{Opts: Options{Vehicle: "fj40"}, Profiles: seedRegistry(t)}
	if _, err := s.Process(context.Background(), ""); !errors.Is(err, domain.ErrUnknownVehicle) {
		t.Fatalf("want ErrUnknownVehicle, got %v", err)
	}
}

func TestSeedShippedProfile(t *testing.T) {
	reg := vehicle.NewRegistry(filepath.Join("..", "..", "config", "vehicles"))
	s := Seed{Opts: Options{Vehicle: "fzj80"}, Profiles: reg}
	docs, err := s.Process(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) < 10 {
		t.Fatalf("only %d seed documents from the shipped profile", len(docs))
	}
	for _, d := range docs {
		if err := domain.ValidateDocument(d); err != nil {
			t.Errorf("%s: %v", d.SourceID, err)
		}
	}
}

func TestDollars(t *testing.T) {
	tests := map[string]string{"800": "$800", "1500": "$1,500", "1234567": "$1,234,567", "n/a": "$n/a"}
	for in, want := range tests {
		if got := dollars(in); got != want {
			t.Errorf("dollars(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTitleCase(t *testing.T) {
	if got := titleCase("HEAD gasket"); got != "Head Gasket" {
		t.Fatalf("titleCase = %q", got)
	}
}
