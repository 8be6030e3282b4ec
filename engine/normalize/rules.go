package normalize

import (
	"regexp"

	"github.com/WessleyAI/axlelore-kb/engine/domain"
)

// Rule assigns Category when Pattern matches.
type Rule struct {
	Pattern  *regexp.Regexp
	Category domain.Category
}

// Rules are evaluated in order; the first match wins.
type Rules []Rule

func rule(pattern string, c domain.Category) Rule {
	return Rule{Pattern: regexp.MustCompile(`(?i)` + pattern), Category: c}
}

// Match returns the category of the first rule matching any of texts, tried
// in order.
func (rs Rules) Match(texts ...string) (domain.Category, bool) {
	for _, t := range texts {
		if t == "" {
			continue
		}
		for _, r := range rs {
			if r.Pattern.MatchString(t) {
				return r.Category, true
			}
		}
	}
	return "", false
}

// Classify is Match with a fallback.
func (rs Rules) Classify(fallback domain.Category, texts ...string) domain.Category {
	if c, ok := rs.Match(texts...); ok {
		return c
	}
	return fallback
}

// manualHeadingRules classify service-manual section headings.
var manualHeadingRules = Rules{
	rule(`engine|1fz|cylinder|piston|crankshaft|camshaft|timing|valve`, domain.CategoryEngine),
	rule(`oil|lubrication|coolant|cooling|radiator|thermostat|water pump`, domain.CategoryEngine),
	rule(`fuel|injection|efi|throttle|intake|exhaust|emission|evap`, domain.CategoryEngine),
	rule(`transmission|clutch|shift|gear|torque converter`, domain.CategoryDrivetrain),
	rule(`transfer\s*case|t-case|center\s*diff`, domain.CategoryDrivetrain),
	rule(`axle|differential|birfield|cv\s*joint|driveshaft|propeller`, domain.CategoryDrivetrain),
	rule(`brake|abs|hydraulic|master\s*cylinder|caliper|drum|rotor`, domain.CategoryChassis),
	rule(`suspension|spring|shock|strut|bushing|sway\s*bar`, domain.CategoryChassis),
	rule(`steering|power\s*steer|tie\s*rod|knuckle|pitman`, domain.CategoryChassis),
	rule(`wheel|hub|bearing|tire|alignment`, domain.CategoryChassis),
	rule(`wiring|electrical|fuse|relay|ecu|sensor|connector|harness`, domain.CategoryElectrical),
	rule(`alternator|starter|battery|ignition|charging`, domain.CategoryElectrical),
	rule(`lighting|headl|tail\s*light|turn\s*signal|gauge|instrument`, domain.CategoryElectrical),
	rule(`body|door|window|trim|seat|mirror|paint|rust|panel`, domain.CategoryBody),
	rule(`hvac|heat|air\s*condition|blower|defrost`, domain.CategoryBody),
}

// articleHeadingRules classify article section headings.
var articleHeadingRules = Rules{
	rule(`engine|1fz|cylinder|piston|oil|coolant|fuel|exhaust`, domain.CategoryEngine),
	rule(`transmission|clutch|transfer|axle|diff|drivetrain|gear`, domain.CategoryDrivetrain),
	rule(`electrical|wiring|fuse|relay|ecu|sensor|battery`, domain.CategoryElectrical),
	rule(`brake|suspension|steering|chassis|wheel|tire`, domain.CategoryChassis),
	rule(`body|door|window|paint|rust|interior|hvac|seat`, domain.CategoryBody),
	rule(`mod|upgrade|lift|build|swap|install`, domain.CategoryForumMods),
	rule(`maintain|service|interval|change`, domain.CategoryForumMaintenance),
	rule(`troubleshoot|problem|fix|diagnos`, domain.CategoryForumTroubleshoot),
}

// forumKeywordRules classify threads whose section is not mapped.
var forumKeywordRules = Rules{
	rule(`install|mod|lift|build|upgrade|swap`, domain.CategoryForumMods),
	rule(`oil\s*change|maintain|service|filter|flush`, domain.CategoryForumMaintenance),
	rule(`part\s*number|for\s*sale|buy|price|vendor|order`, domain.CategoryParts),
	rule(`fix|problem|issue|help|trouble|broken|leak|noise`, domain.CategoryForumTroubleshoot),
	rule(`wiring|fuse|relay|ecu|sensor|electrical`, domain.CategoryForumTroubleshoot),
}
