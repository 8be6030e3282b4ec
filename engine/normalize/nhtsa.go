package normalize

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/WessleyAI/axlelore-kb/engine/domain"
	"github.com/WessleyAI/axlelore-kb/engine/scrape/nhtsa"
)

// componentCategories maps NHTSA component names to categories.
var componentCategories = []struct {
	name     string
	category domain.Category
}{
	{"ENGINE AND ENGINE COOLING", domain.CategoryEngine},
	{"ENGINE", domain.CategoryEngine},
	{"FUEL SYSTEM", domain.CategoryEngine},
	{"EXHAUST SYSTEM", domain.CategoryEngine},
	{"AIR BAGS", domain.CategoryChassis},
	{"SERVICE BRAKES", domain.CategoryChassis},
	{"SERVICE BRAKES, HYDRAULIC", domain.CategoryChassis},
	{"SERVICE BRAKES, AIR", domain.CategoryChassis},
	{"PARKING BRAKE", domain.CategoryChassis},
	{"SUSPENSION", domain.CategoryChassis},
	{"STEERING", domain.CategoryChassis},
	{"WHEELS", domain.CategoryChassis},
	{"TIRES", domain.CategoryChassis},
	{"ELECTRICAL SYSTEM", domain.CategoryElectrical},
	{"LIGHTING", domain.CategoryElectrical},
	{"POWER TRAIN", domain.CategoryDrivetrain},
	{"VEHICLE SPEED CONTROL", domain.CategoryDrivetrain},
	{"SEAT BELTS", domain.CategoryBody},
	{"SEATS", domain.CategoryBody},
	{"STRUCTURE", domain.CategoryBody},
	{"EXTERIOR LIGHTING", domain.CategoryElectrical},
	{"INTERIOR LIGHTING", domain.CategoryElectrical},
	{"VISIBILITY", domain.CategoryBody},
	{"LATCHES/LOCKS/LINKAGES", domain.CategoryBody},
}

// ComponentCategory maps an NHTSA component to a category: exact match,
// then containment either way, then general.
func ComponentCategory(component string) domain.Category {
	key := strings.ToUpper(strings.TrimSpace(component))
	if key == "" {
		return domain.CategoryGeneral
	}
	for _, c := range componentCategories {
		if c.name == key {
			return c.category
		}
	}
	for _, c := range componentCategories {
		if strings.Contains(key, c.name) || strings.Contains(c.name, key) {
			return c.category
		}
	}
	return domain.CategoryGeneral
}

// ComplaintQuality scores severity: 0.3 baseline, crash +0.3, injury +0.2,
// fire +0.2, capped at 1.
func ComplaintQuality(c nhtsa.Complaint) float64 {
	score := 0.3
	if c.Crash {
		score += 0.3
	}
	if c.NumberOfInjuries > 0 {
		score += 0.2
	}
	if c.Fire {
		score += 0.2
	}
	return round(clamp01(score), 2)
}

// NormalizeRecall builds a tsb document from a recall.
func NormalizeRecall(r nhtsa.Recall, opts Options) (domain.Document, bool) {
	if r.CampaignNumber == "" {
		return domain.Document{}, false
	}
	lines := []string{
		"NHTSA Recall " + r.CampaignNumber,
		"Component: " + r.Component,
		"Summary: " + r.Summary,
	}
	if r.Consequence != "" {
		lines = append(lines, "Consequence: "+r.Consequence)
	}
	if r.Remedy != "" {
		lines = append(lines, "Remedy: "+r.Remedy)
	}
	return domain.Document{
		Source:       domain.SourceNHTSA,
		SourceID:     "recall_" + r.CampaignNumber,
		Title:        fmt.Sprintf("NHTSA Recall %s: %s", r.CampaignNumber, r.Component),
		Content:      strings.Join(lines, "\n"),
		Category:     domain.CategoryTSB,
		Date:         strPtr(r.ReportReceivedDate),
		QualityScore: 1.0,
		Metadata: opts.meta(
			"nhtsa_type", "recall",
			"component", r.Component,
			"model_year", r.ModelYear,
		),
	}, true
}

// NormalizeComplaint builds a document from a complaint filed for year.
func NormalizeComplaint(c nhtsa.Complaint, year int, opts Options) (domain.Document, bool) {
	if c.ODINumber == 0 {
		return domain.Document{}, false
	}
	id := strconv.Itoa(c.ODINumber)
	modelYear := c.ModelYear(year)
	lines := []string{
		"NHTSA Complaint " + id,
		"Component: " + c.Components,
		"Year: " + modelYear,
		"Summary: " + c.Summary,
	}
	injury := c.NumberOfInjuries > 0
	if c.Crash {
		lines = append(lines, "Crash reported: Yes")
	}
	if injury {
		lines = append(lines, "Injury reported: Yes")
	}
	if c.Fire {
		lines = append(lines, "Fire reported: Yes")
	}
	return domain.Document{
		Source:       domain.SourceNHTSA,
		SourceID:     "complaint_" + id,
		Title:        "NHTSA Complaint: " + c.Components,
		Content:      strings.Join(lines, "\n"),
		Category:     ComponentCategory(c.Components),
		Date:         strPtr(c.DateComplaintFiled),
		QualityScore: ComplaintQuality(c),
		Metadata: opts.meta(
			"nhtsa_type", "complaint",
			"component", c.Components,
			"model_year", modelYear,
			"crash", c.Crash,
			"injury", injury,
			"fire", c.Fire,
		),
	}, true
}

// NHTSA normalizes {year}_recalls.json and {year}_complaints.json files.
type NHTSA struct{ Opts Options }

func (NHTSA) Source() domain.Source { return domain.SourceNHTSA }

// Process emits recalls first, then complaints, each deduplicated by id.
func (n NHTSA) Process(ctx context.Context, rawDir string) ([]domain.Document, error) {
	log := n.Opts.logger().With("source", domain.SourceNHTSA)
	var docs []domain.Document
	seen := map[string]bool{}
	add := func(d domain.Document, ok bool) {
		if !ok || seen[d.SourceID] || !keep(log, d) {
			return
		}
		seen[d.SourceID] = true
		docs = append(docs, d)
	}

	recalls, err := filepath.Glob(filepath.Join(rawDir, "*_"+string(nhtsa.KindRecalls)+".json"))
	if err != nil {
		return nil, err
	}
	for _, path := range recalls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var resp nhtsa.Response[nhtsa.Recall]
		if err := readJSON(path, &resp); err != nil {
			log.Warn("skipping recall file", "error", err)
			continue
		}
		for _, r := range resp.Results {
			add(NormalizeRecall(r, n.Opts))
		}
	}
	nRecalls := len(docs)

	complaints, err := filepath.Glob(filepath.Join(rawDir, "*_"+string(nhtsa.KindComplaints)+".json"))
	if err != nil {
		return nil, err
	}
	for _, path := range complaints {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var resp nhtsa.Response[nhtsa.Complaint]
		if err := readJSON(path, &resp); err != nil {
			log.Warn("skipping complaint file", "error", err)
			continue
		}
		year := yearOf(path)
		for _, c := range resp.Results {
			add(NormalizeComplaint(c, year, n.Opts))
		}
	}
	log.Info("nhtsa normalized", "recalls", nRecalls, "complaints", len(docs)-nRecalls)
	return docs, nil
}

// yearOf reads the year prefix of a raw file name, or 0.
func yearOf(path string) int {
	stem, _, _ := strings.Cut(filepath.Base(path), "_")
	y, _ := strconv.Atoi(stem)
	return y
}
