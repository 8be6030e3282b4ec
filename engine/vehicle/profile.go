// Package vehicle loads per-vehicle profiles: the keyword route table the
// retrieval router uses, the default categories and the structured spec
// data the YAML seeder turns into documents.
package vehicle

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/WessleyAI/axlelore-kb/engine/domain"
	"github.com/WessleyAI/axlelore-kb/engine/scrape/articles"
)

// Profile is one config/vehicles/{type}.yaml file.
type Profile struct {
	VehicleType     string `yaml:"vehicle_type"`
	Name            string `yaml:"name"`
	ProductionYears []int  `yaml:"production_years"`
	Engine          struct {
		Code string `yaml:"code"`
	} `yaml:"engine"`
	KeywordRoutes     map[string][]domain.Category `yaml:"keyword_routes"`
	DefaultCategories []domain.Category            `yaml:"default_categories"`
	KnowledgeSources  struct {
		Articles []articles.Source `yaml:"articles"`
	} `yaml:"knowledge_sources"`

	// Spec is the whole document, kept in file order for the seeder.
	Spec *yaml.Node `yaml:"-"`

	keywords []string
}

// Parse decodes and validates a profile.
func Parse(data []byte) (*Profile, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("vehicle: parse: %w", err)
	}
	p := &Profile{}
	if err := root.Decode(p); err != nil {
		return nil, fmt.Errorf("vehicle: decode: %w", err)
	}
	if len(root.Content) > 0 {
		p.Spec = root.Content[0]
	}
	if err := p.validate(); err != nil {
		return nil, err
	}

	p.keywords = make([]string, 0, len(p.KeywordRoutes))
	lowered := make(map[string][]domain.Category, len(p.KeywordRoutes))
	for k, cats := range p.KeywordRoutes {
		k = strings.ToLower(strings.TrimSpace(k))
		lowered[k] = append(lowered[k], cats...)
		p.keywords = append(p.keywords, k)
	}
	p.KeywordRoutes = lowered
	sort.Strings(p.keywords)
	p.keywords = slices.Compact(p.keywords)
	if len(p.DefaultCategories) == 0 {
		p.DefaultCategories = []domain.Category{domain.CategoryGeneral}
	}
	return p, nil
}

func (p *Profile) validate() error {
	if err := domain.ValidateVehicleType(p.VehicleType); err != nil {
		return err
	}
	for k, cats := range p.KeywordRoutes {
		if strings.TrimSpace(k) == "" {
			return domain.NewValidationError("keyword_routes", k, domain.ErrInvalidInput)
		}
		for _, c := range cats {
			if !c.Valid() {
				return domain.NewValidationError("keyword_routes."+k, string(c), domain.ErrBadCategory)
			}
		}
	}
	for _, c := range p.DefaultCategories {
		if !c.Valid() {
			return domain.NewValidationError("default_categories", string(c), domain.ErrBadCategory)
		}
	}
	return nil
}

// Route returns the categories whose keywords occur in query, or the
// default categories when none do. The result follows domain.Categories
// order so equal inputs give equal outputs.
func (p *Profile) Route(query string) []domain.Category {
	q := strings.ToLower(query)
	hit := map[domain.Category]bool{}
	for _, k := range p.keywords {
		if strings.Contains(q, k) {
			for _, c := range p.KeywordRoutes[k] {
				hit[c] = true
			}
		}
	}
	if len(hit) == 0 {
		return slices.Clone(p.DefaultCategories)
	}
	var out []domain.Category
	for _, c := range domain.Categories {
		if hit[c] {
			out = append(out, c)
		}
	}
	return out
}

// Context is the vehicle block injected ahead of retrieved knowledge.
type Context struct {
	Year     int
	Nickname string
	Mileage  int
	Mods     []string
	Services []string
	NextDue  string
}

// Prompt formats the vehicle block for a prompt.
func (p *Profile) Prompt(c Context) string {
	var b strings.Builder
	if c.Year > 0 {
		fmt.Fprintf(&b, "Vehicle: %d %s", c.Year, p.Name)
	} else {
		fmt.Fprintf(&b, "Vehicle: %s", p.Name)
	}
	if c.Nickname != "" {
		fmt.Fprintf(&b, "\nNickname: %s", c.Nickname)
	}
	if c.Mileage > 0 {
		fmt.Fprintf(&b, "\nCurrent Mileage: %s miles", thousands(c.Mileage))
	}
	engine := p.Engine.Code
	if engine == "" {
		engine = "Unknown"
	}
	fmt.Fprintf(&b, "\nEngine: %s", engine)
	if len(c.Mods) > 0 {
		fmt.Fprintf(&b, "\nModifications: %s", strings.Join(c.Mods, ", "))
	}
	if len(c.Services) > 0 {
		b.WriteString("\nRecent Services:")
		for _, s := range c.Services[:min(5, len(c.Services))] {
			fmt.Fprintf(&b, "\n  - %s", s)
		}
	}
	if c.NextDue != "" {
		fmt.Fprintf(&b, "\nNext Service Due: %s", c.NextDue)
	}
	return b.String()
}

func thousands(n int) string {
	s := fmt.Sprint(n)
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return s
}
