package normalize

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/WessleyAI/axlelore-kb/engine/domain"
	"github.com/WessleyAI/axlelore-kb/engine/vehicle"
)

// SeedQuality is the score of documents seeded from a vehicle profile.
const SeedQuality = 1.0

// Seed turns the structured sections of a vehicle profile into documents.
// It needs no scraped data, so a fresh knowledge base is useful at once.
type Seed struct {
	Opts     Options
	Profiles *vehicle.Registry
}

func (Seed) Source() domain.Source { return domain.SourceYAML }

// Process ignores rawDir; the profile comes from the registry.
func (s Seed) Process(ctx context.Context, _ string) ([]domain.Document, error) {
	p, err := s.Profiles.Get(ctx, s.Opts.Vehicle)
	if err != nil {
		return nil, err
	}
	log := s.Opts.logger().With("source", domain.SourceYAML)
	var docs []domain.Document
	for _, d := range SeedDocuments(p, s.Opts) {
		if keep(log, d) {
			docs = append(docs, d)
		}
	}
	log.Info("profile seeded", "documents", len(docs))
	return docs, nil
}

// seeder emits documents for one top-level profile section.
type seeder func(root node, name string) []seedDoc

type seedDoc struct {
	id, title string
	category  domain.Category
	lines     []string
}

var seeders = []seeder{
	seedEngine,
	seedTransmission,
	seedTransferCase,
	seedAxles,
	seedBrakes,
	seedSuspension,
	seedSteering,
	seedElectrical,
	seedDimensions,
	seedTires,
	seedCommonIssues,
	seedModifications,
}

// SeedDocuments runs every section seeder in a fixed order.
func SeedDocuments(p *vehicle.Profile, opts Options) []domain.Document {
	if p.Spec == nil {
		return nil
	}
	name := p.Name
	if name == "" {
		name = p.VehicleType
	}
	root := node{p.Spec}
	var docs []domain.Document
	for _, seed := range seeders {
		for _, sd := range seed(root, name) {
			docs = append(docs, domain.Document{
				Source:       domain.SourceYAML,
				SourceID:     sd.id,
				Title:        sd.title,
				Content:      strings.Join(sd.lines, "\n"),
				Category:     sd.category,
				QualityScore: SeedQuality,
				Metadata:     opts.meta("title", sd.title),
			})
		}
	}
	return docs
}

// node wraps a yaml mapping so lookups keep file order.
type node struct{ n *yaml.Node }

func (m node) ok() bool { return m.n != nil }

func (m node) isMap() bool { return m.n != nil && m.n.Kind == yaml.MappingNode }

func (m node) get(key string) node {
	if !m.isMap() {
		return node{}
	}
	for i := 0; i+1 < len(m.n.Content); i += 2 {
		if m.n.Content[i].Value == key {
			return node{m.n.Content[i+1]}
		}
	}
	return node{}
}

func (m node) has(key string) bool { return m.get(key).ok() }

// str is the scalar value of key, or def.
func (m node) str(key, def string) string {
	v := m.get(key)
	if !v.ok() || v.n.Kind != yaml.ScalarNode {
		return def
	}
	return v.n.Value
}

type pair struct {
	key string
	val node
}

func (m node) pairs() []pair {
	if !m.isMap() {
		return nil
	}
	out := make([]pair, 0, len(m.n.Content)/2)
	for i := 0; i+1 < len(m.n.Content); i += 2 {
		out = append(out, pair{m.n.Content[i].Value, node{m.n.Content[i+1]}})
	}
	return out
}

func (m node) items() []node {
	if m.n == nil || m.n.Kind != yaml.SequenceNode {
		return nil
	}
	out := make([]node, len(m.n.Content))
	for i, c := range m.n.Content {
		out[i] = node{c}
	}
	return out
}

// format renders a value on one line: lists joined by commas, maps as
// "k: v" pairs joined by semicolons.
func (m node) format() string {
	if m.n == nil {
		return ""
	}
	switch m.n.Kind {
	case yaml.SequenceNode:
		parts := make([]string, 0, len(m.n.Content))
		for _, it := range m.items() {
			parts = append(parts, it.format())
		}
		return strings.Join(parts, ", ")
	case yaml.MappingNode:
		parts := make([]string, 0, len(m.n.Content)/2)
		for _, p := range m.pairs() {
			parts = append(parts, p.key+": "+p.val.format())
		}
		return strings.Join(parts, "; ")
	case yaml.AliasNode:
		return node{m.n.Alias}.format()
	}
	return m.n.Value
}

// flatten turns nested maps into "a > b" labelled values.
func (m node) flatten(prefix string) []pair {
	var out []pair
	for _, p := range m.pairs() {
		label := p.key
		if prefix != "" {
			label = prefix + " > " + p.key
		}
		if p.val.isMap() {
			out = append(out, p.val.flatten(label)...)
			continue
		}
		out = append(out, pair{label, p.val})
	}
	return out
}

// titleCase upper-cases the first letter of every word and lower-cases the
// rest.
func titleCase(s string) string {
	rs := []rune(s)
	prev := false
	for i, r := range rs {
		if prev {
			rs[i] = unicode.ToLower(r)
		} else {
			rs[i] = unicode.ToUpper(r)
		}
		prev = unicode.IsLetter(r)
	}
	return string(rs)
}

func label(key string) string { return titleCase(strings.ReplaceAll(key, "_", " ")) }

// fieldLines renders every pair of m as "Label: value".
func fieldLines(m node) []string {
	var lines []string
	for _, p := range m.pairs() {
		lines = append(lines, label(p.key)+": "+p.val.format())
	}
	return lines
}

// ratioLines renders every pair of m, indenting the entries of nested.
func ratioLines(m node, nested, heading string) []string {
	var lines []string
	for _, p := range m.pairs() {
		if p.key == nested && p.val.isMap() {
			lines = append(lines, heading)
			for _, g := range p.val.pairs() {
				lines = append(lines, fmt.Sprintf("  %s: %s", titleCase(g.key), g.val.format()))
			}
			continue
		}
		lines = append(lines, label(p.key)+": "+p.val.format())
	}
	return lines
}

func seedEngine(root node, name string) []seedDoc {
	e := root.get("engine")
	if !e.isMap() {
		return nil
	}
	code := e.str("code", "")
	docs := []seedDoc{{
		id:       "engine_specs",
		title:    code + " Engine Specifications",
		category: domain.CategoryEngine,
		lines: []string{
			fmt.Sprintf("%s Engine Specifications (%s)", name, code),
			"Type: " + e.str("type", ""),
			fmt.Sprintf("Displacement: %sL (%scc)", e.str("displacement_l", ""), e.str("displacement_cc", "")),
			"Fuel system: " + e.str("fuel_system", ""),
			"Horsepower: " + e.str("horsepower", "") + " hp",
			"Torque: " + e.str("torque_lb_ft", "") + " lb-ft",
			"Compression ratio: " + e.str("compression_ratio", ""),
			"Firing order: " + e.str("firing_order", ""),
			fmt.Sprintf("Bore: %s mm, Stroke: %s mm", e.str("bore_mm", ""), e.str("stroke_mm", "")),
		},
	}}
	for _, f := range e.get("fluids").pairs() {
		lines := []string{fmt.Sprintf("%s Engine %s Specifications", name, titleCase(f.key))}
		for _, kv := range f.val.flatten("") {
			lines = append(lines, label(kv.key)+": "+kv.val.format())
		}
		docs = append(docs, seedDoc{
			id:       "engine_fluid_" + f.key,
			title:    "Engine " + titleCase(f.key) + " Specs",
			category: domain.CategoryEngine,
			lines:    lines,
		})
	}
	for _, m := range e.get("maintenance").pairs() {
		docs = append(docs, seedDoc{
			id:       "engine_maint_" + m.key,
			title:    "Maintenance Schedule: " + label(m.key),
			category: domain.CategoryEngine,
			lines:    append([]string{fmt.Sprintf("%s Maintenance: %s", name, label(m.key))}, fieldLines(m.val)...),
		})
	}
	return docs
}

func seedTransmission(root node, name string) []seedDoc {
	t := root.get("transmission")
	var docs []seedDoc
	for _, kind := range []string{"automatic", "manual"} {
		td := t.get(kind)
		if !td.isMap() {
			continue
		}
		code := td.str("code", kind)
		docs = append(docs, seedDoc{
			id:       "trans_" + kind,
			title:    fmt.Sprintf("%s %s Transmission", code, titleCase(kind)),
			category: domain.CategoryDrivetrain,
			lines: append([]string{fmt.Sprintf("%s %s Transmission (%s)", name, titleCase(kind), code)},
				ratioLines(td, "gears", "Gear Ratios:")...),
		})
	}
	return docs
}

func seedTransferCase(root node, name string) []seedDoc {
	tc := root.get("transfer_case")
	if !tc.isMap() {
		return nil
	}
	code := tc.str("code", "")
	return []seedDoc{{
		id:       "transfer_case",
		title:    code + " Transfer Case",
		category: domain.CategoryDrivetrain,
		lines:    append([]string{fmt.Sprintf("%s Transfer Case (%s)", name, code)}, ratioLines(tc, "ratios", "Ratios:")...),
	}}
}

// positional seeds one document per front/rear entry of section.
func positional(root node, name, section, heading, idPrefix, titleFmt string, c domain.Category) []seedDoc {
	s := root.get(section)
	var docs []seedDoc
	for _, pos := range []string{"front", "rear"} {
		d := s.get(pos)
		if !d.isMap() {
			continue
		}
		docs = append(docs, seedDoc{
			id:       idPrefix + "_" + pos,
			title:    fmt.Sprintf(titleFmt, titleCase(pos)),
			category: c,
			lines:    append([]string{fmt.Sprintf("%s %s %s", name, titleCase(pos), heading)}, fieldLines(d)...),
		})
	}
	return docs
}

func seedAxles(root node, name string) []seedDoc {
	return positional(root, name, "axles", "Axle", "axle", "%s Axle Specifications", domain.CategoryDrivetrain)
}

func seedBrakes(root node, name string) []seedDoc {
	b := root.get("brakes")
	if !b.isMap() {
		return nil
	}
	docs := positional(root, name, "brakes", "Brakes", "brakes", "%s Brake Specifications", domain.CategoryChassis)

	lines := []string{name + " Brake System Info"}
	if abs := b.get("abs"); abs.ok() {
		var on bool
		_ = abs.n.Decode(&on)
		yes := "No"
		if on {
			yes = "Yes"
		}
		lines = append(lines, "ABS: "+yes)
	}
	if b.has("abs_module") {
		lines = append(lines, "ABS Module: "+b.get("abs_module").format())
	}
	for _, p := range b.get("fluid").pairs() {
		lines = append(lines, "Brake Fluid "+label(p.key)+": "+p.val.format())
	}
	for _, p := range b.get("parking_brake").pairs() {
		lines = append(lines, "Parking Brake "+label(p.key)+": "+p.val.format())
	}
	if len(lines) > 1 {
		docs = append(docs, seedDoc{id: "brakes_system", title: "Brake System Overview", category: domain.CategoryChassis, lines: lines})
	}
	return docs
}

func seedSuspension(root node, name string) []seedDoc {
	docs := positional(root, name, "suspension", "Suspension", "suspension", "%s Suspension", domain.CategoryChassis)
	if sway := root.get("suspension").get("sway_bars"); sway.isMap() {
		docs = append(docs, seedDoc{
			id:       "sway_bars",
			title:    "Sway Bars",
			category: domain.CategoryChassis,
			lines:    append([]string{name + " Sway Bars"}, fieldLines(sway)...),
		})
	}
	return docs
}

func seedSteering(root node, name string) []seedDoc {
	s := root.get("steering")
	if !s.isMap() {
		return nil
	}
	return []seedDoc{{
		id:       "steering",
		title:    "Steering Specifications",
		category: domain.CategoryChassis,
		lines:    append([]string{name + " Steering"}, fieldLines(s)...),
	}}
}

func seedElectrical(root node, name string) []seedDoc {
	var docs []seedDoc
	for _, p := range root.get("electrical").pairs() {
		if !p.val.isMap() {
			continue
		}
		docs = append(docs, seedDoc{
			id:       "electrical_" + p.key,
			title:    "Electrical: " + label(p.key),
			category: domain.CategoryElectrical,
			lines:    append([]string{fmt.Sprintf("%s Electrical: %s", name, label(p.key))}, fieldLines(p.val)...),
		})
	}
	return docs
}

func seedDimensions(root node, name string) []seedDoc {
	lines := []string{name + " Dimensions, Weights & Capacities"}
	for _, sec := range []struct{ key, heading string }{
		{"dimensions", "Dimensions:"},
		{"weights", "Weights:"},
		{"capacities", "Capacities:"},
	} {
		pairs := root.get(sec.key).pairs()
		if len(pairs) == 0 {
			continue
		}
		lines = append(lines, "\n"+sec.heading)
		for _, p := range pairs {
			lines = append(lines, "  "+label(p.key)+": "+p.val.format())
		}
	}
	if len(lines) == 1 {
		return nil
	}
	return []seedDoc{{
		id:       "dims_weights_caps",
		title:    "Dimensions, Weights & Capacities",
		category: domain.CategoryGeneral,
		lines:    lines,
	}}
}

func seedTires(root node, name string) []seedDoc {
	t := root.get("tires")
	if !t.isMap() {
		return nil
	}
	lines := []string{
		name + " Tire Specifications",
		"OEM Size: " + t.str("oem_size", "N/A"),
		"Rotation Interval: " + t.str("rotation_interval_miles", "N/A") + " miles",
		"Front Pressure: " + t.str("pressure_front_psi", "N/A") + " psi",
		"Rear Pressure: " + t.str("pressure_rear_psi", "N/A") + " psi",
		"Spare Location: " + t.str("spare_location", "N/A"),
	}
	if alts := t.get("alternatives").items(); len(alts) > 0 {
		lines = append(lines, "\nAlternative Tire Sizes:")
		for _, a := range alts {
			lines = append(lines, fmt.Sprintf("  %s: %s", a.str("size", "?"), a.str("notes", "")))
		}
	}
	return []seedDoc{{id: "tires", title: "Tire Specifications & Alternatives", category: domain.CategoryChassis, lines: lines}}
}

func bullets(lines []string, heading string, list node) []string {
	if !list.ok() {
		return lines
	}
	lines = append(lines, heading)
	for _, it := range list.items() {
		lines = append(lines, "  - "+it.format())
	}
	return lines
}

func dollars(s string) string {
	n, err := strconv.Atoi(s)
	if err != nil {
		return "$" + s
	}
	out := strconv.Itoa(n)
	for i := len(out) - 3; i > 0; i -= 3 {
		out = out[:i] + "," + out[i:]
	}
	return "$" + out
}

func seedCommonIssues(root node, name string) []seedDoc {
	var docs []seedDoc
	for _, issue := range root.get("common_issues").items() {
		code := issue.str("code", "UNKNOWN")
		lines := []string{
			fmt.Sprintf("%s Common Issue: %s", name, issue.str("description", code)),
			"Severity: " + issue.str("severity", "unknown"),
		}
		if issue.has("affected_years") {
			lines = append(lines, "Affected Years: "+issue.get("affected_years").format())
		}
		if r := issue.get("typical_cost_range").items(); len(r) >= 2 {
			lines = append(lines, fmt.Sprintf("Typical Cost: %s - %s", dollars(r[0].format()), dollars(r[1].format())))
		}
		lines = bullets(lines, "Symptoms:", issue.get("symptoms"))
		lines = bullets(lines, "Causes:", issue.get("causes"))
		lines = bullets(lines, "Prevention:", issue.get("prevention"))
		if issue.has("fix") {
			lines = append(lines, "Fix: "+issue.get("fix").format())
		}
		docs = append(docs, seedDoc{
			id:       "issue_" + strings.ToLower(code),
			title:    "Common Issue: " + label(code),
			category: domain.CategoryForumTroubleshoot,
			lines:    lines,
		})
	}
	return docs
}

func seedModifications(root node, name string) []seedDoc {
	var docs []seedDoc
	for _, group := range root.get("modifications").pairs() {
		for _, mod := range group.val.items() {
			modName := mod.str("name", "Unknown Mod")
			lines := []string{
				fmt.Sprintf("%s Modification: %s", name, modName),
				"Category: " + label(group.key),
			}
			for _, f := range []struct{ key, label string }{
				{"description", "Description"},
				{"lift_height", "Lift Height"},
				{"vendor", "Vendor"},
				{"notes", "Notes"},
			} {
				if mod.has(f.key) {
					lines = append(lines, f.label+": "+mod.get(f.key).format())
				}
			}
			if pns := mod.get("part_numbers").pairs(); len(pns) > 0 {
				lines = append(lines, "Part Numbers:")
				for _, pn := range pns {
					lines = append(lines, "  "+label(pn.key)+": "+pn.val.format())
				}
			}
			if mod.has("locations") {
				lines = append(lines, "Locations: "+mod.get("locations").format())
			}
			if mod.has("install_difficulty") {
				lines = append(lines, "Install Difficulty: "+mod.get("install_difficulty").format())
			}
			slug := strings.ReplaceAll(strings.ToLower(modName), " ", "_")
			if r := []rune(slug); len(r) > 30 {
				slug = string(r[:30])
			}
			docs = append(docs, seedDoc{
				id:       "mod_" + group.key + "_" + slug,
				title:    "Mod: " + modName,
				category: domain.CategoryForumMods,
				lines:    lines,
			})
		}
	}
	return docs
}
