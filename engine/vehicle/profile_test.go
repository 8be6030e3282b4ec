package vehicle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/WessleyAI/axlelore-kb/engine/domain"
)

const testProfile = `
vehicle_type: testrig
name: Test Rig
engine:
  code: 2UZ
keyword_routes:
  Overheat: [engine, forum_troubleshoot]
  birfield: [drivetrain]
  noise: [forum_troubleshoot]
default_categories: [general, engine]
knowledge_sources:
  articles:
    - url: https://example.com/guide
      categories: [general]
      title_hint: Guide
`

func writeProfile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRouteKeywords(t *testing.T) {
	p, err := Parse([]byte(testProfile))
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		query string
		want  []domain.Category
	}{
		{"my truck started to overheat on the highway", []domain.Category{domain.CategoryEngine, domain.CategoryForumTroubleshoot}},
		{"Birfield noise when turning", []domain.Category{domain.CategoryDrivetrain, domain.CategoryForumTroubleshoot}},
		{"what color is the sky", []domain.Category{domain.CategoryGeneral, domain.CategoryEngine}},
	}
	for _, tt := range tests {
		got := p.Route(tt.query)
		if !slices.Equal(got, tt.want) {
			t.Errorf("Route(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}

func TestParseRejectsUnknownCategory(t *testing.T) {
	_, err := Parse([]byte("vehicle_type: x\nkeyword_routes:\n  foo: [nonsense]\n"))
	if !errors.Is(err, domain.ErrBadCategory) {
		t.Fatalf("want ErrBadCategory, got %v", err)
	}
}

func TestParseRejectsBlankKeyword(t *testing.T) {
	_, err := Parse([]byte("vehicle_type: x\nkeyword_routes:\n  \"  \": [engine]\n  noise: [forum_troubleshoot]\n"))
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput, got %v", err)
	}
}

func TestParseKeepsSpecNode(t *testing.T) {
	p, err := Parse([]byte(testProfile))
	if err != nil {
		t.Fatal(err)
	}
	if p.Spec == nil || p.Spec.Content[0].Value != "vehicle_type" {
		t.Fatal("spec node should keep file order")
	}
	if len(p.KnowledgeSources.Articles) != 1 || p.KnowledgeSources.Articles[0].TitleHint != "Guide" {
		t.Fatalf("articles = %+v", p.KnowledgeSources.Articles)
	}
}

func TestPrompt(t *testing.T) {
	p, _ := Parse([]byte(testProfile))
	out := p.Prompt(Context{Year: 1995, Mileage: 215000, Mods: []string{"lift", "bumper"}})
	for _, want := range []string{"Vehicle: 1995 Test Rig", "Current Mileage: 215,000 miles", "Engine: 2UZ", "Modifications: lift, bumper"} {
		if !strings.Contains(out, want) {
			t.Errorf("prompt missing %q:\n%s", want, out)
		}
	}
}

func TestRegistry(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "testrig", testProfile)
	r := NewRegistry(dir)
	ctx := context.Background()

	p, err := r.Get(ctx, "testrig")
	if err != nil {
		t.Fatal(err)
	}
	again, _ := r.Get(ctx, "testrig")
	if p != again {
		t.Fatal("profile should be loaded once")
	}
	if _, err := r.Get(ctx, "fj40"); !errors.Is(err, domain.ErrUnknownVehicle) {
		t.Fatalf("want ErrUnknownVehicle, got %v", err)
	}
	got, err := r.Supported()
	if err != nil || !slices.Equal(got, []string{"testrig"}) {
		t.Fatalf("Supported = %v, %v", got, err)
	}
}

func TestRegistryTypeMismatch(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "other", testProfile)
	if _, err := NewRegistry(dir).Get(context.Background(), "other"); err == nil {
		t.Fatal("expected error for mismatched vehicle_type")
	}
}

func TestShippedProfile(t *testing.T) {
	r := NewRegistry(filepath.Join("..", "..", "config", "vehicles"))
	p, err := r.Get(context.Background(), "fzj80")
	if err != nil {
		t.Fatal(err)
	}
	if p.Engine.Code != "1FZ-FE" {
		t.Fatalf("engine = %q", p.Engine.Code)
	}
	if got := p.Route("head gasket is leaking"); !slices.Contains(got, domain.CategoryEngine) {
		t.Fatalf("route = %v", got)
	}
}
