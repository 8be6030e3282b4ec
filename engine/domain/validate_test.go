package domain

import (
	"errors"
	"strings"
	"testing"
)

func validDoc() Document {
	return Document{
		Source:       SourceNHTSA,
		SourceID:     "recall_95V123000",
		Title:        "NHTSA Recall 95V123000: STEERING",
		Content:      strings.Repeat("steering box may loosen ", 5),
		Category:     CategoryTSB,
		QualityScore: 1,
		Metadata:     map[string]any{"model_year": "1995", "vehicle_type": "fzj80"},
	}
}

func TestValidateDocument_Valid(t *testing.T) {
	if err := ValidateDocument(validDoc()); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}

func TestValidateDocument_Invalid(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Document)
		want   error
	}{
		{"unknown source", func(d *Document) { d.Source = "reddit" }, ErrInvalidInput},
		{"empty source id", func(d *Document) { d.SourceID = "" }, ErrInvalidInput},
		{"short content", func(d *Document) { d.Content = "too short" }, ErrTooShort},
		{"bad category", func(d *Document) { d.Category = "brakes" }, ErrBadCategory},
		{"score above one", func(d *Document) { d.QualityScore = 1.2 }, ErrInvalidInput},
		{"nested metadata", func(d *Document) { d.Metadata["posts"] = []string{"a"} }, ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := validDoc()
			tc.mutate(&d)
			err := ValidateDocument(d)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
		})
	}
}

func TestValidateVehicleType(t *testing.T) {
	for _, v := range []string{"fzj80", "hdj_81"} {
		if err := ValidateVehicleType(v); err != nil {
			t.Errorf("%q: %v", v, err)
		}
	}
	for _, v := range []string{"", "FZJ80", "../etc", "fz j80"} {
		if err := ValidateVehicleType(v); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("%q: expected ErrInvalidInput, got %v", v, err)
		}
	}
}

func TestScalarMetadata(t *testing.T) {
	in := map[string]any{"a": "x", "b": 3, "c": 1.5, "d": true, "e": []int{1}, "f": map[string]any{}, "g": nil}
	out := ScalarMetadata(in)
	if len(out) != 4 {
		t.Fatalf("got %v", out)
	}
	if _, ok := out["e"]; ok {
		t.Fatal("slice should be dropped")
	}
}

func TestCategories(t *testing.T) {
	if len(Categories) != 11 {
		t.Fatalf("expected 11 categories, got %d", len(Categories))
	}
	if !CategoryTSB.Valid() || Category("nope").Valid() {
		t.Fatal("Valid() mismatch")
	}
	if CollectionName("fzj80", CategoryEngine) != "fzj80_engine" {
		t.Fatal("collection naming")
	}
}
