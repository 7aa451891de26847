package aspects

import (
	"fmt"
	"math"
	"sort"

	"AstroCal/internal/domain/models"
	"AstroCal/internal/services/zodiac"
)

// Config selects the aspect table and the points aspects are computed over.
type Config struct {
	Table models.AspectTable
	// Bodies restricts detection; empty means models.ClassicalBodies.
	// Pair canonical order follows this declaration order.
	Bodies []string
	// AllPoints ignores Bodies and uses every point of the chart, ordered alphabetically.
	AllPoints bool
}

type rule struct {
	angle  float64
	kind   models.AspectKind
	maxOrb float64
}

// Detector classifies angular separations into aspects. It is immutable after
// construction and safe for concurrent use.
type Detector struct {
	rules     []rule
	bodies    []string
	allPoints bool
}

// NewDetector validates cfg and fails fast on a malformed table.
func NewDetector(cfg Config) (*Detector, error) {
	table := cfg.Table
	if table == nil {
		table = models.DefaultAspectTable()
	}
	if len(table) == 0 {
		return nil, models.NewConfigurationError("aspects", "table is empty")
	}

	rules := make([]rule, 0, len(table))
	for angle, r := range table {
		kind, ok := models.ParseAspectKind(r.Kind)
		if !ok {
			return nil, models.NewConfigurationError(fmt.Sprintf("aspects[%g]", angle), "unknown kind %q", r.Kind)
		}
		if math.Abs(kind.Angle()-angle) > 1e-9 {
			return nil, models.NewConfigurationError(fmt.Sprintf("aspects[%g]", angle), "%s is %g degrees", kind, kind.Angle())
		}
		if !zodiac.IsFinite(r.MaxOrb) || r.MaxOrb < 0 {
			return nil, models.NewConfigurationError(fmt.Sprintf("aspects[%g]", angle), "invalid max orb %v", r.MaxOrb)
		}
		rules = append(rules, rule{angle: angle, kind: kind, maxOrb: r.MaxOrb})
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].kind.Rank() < rules[j].kind.Rank() })

	d := &Detector{rules: rules, allPoints: cfg.AllPoints}
	if !cfg.AllPoints {
		bodies := cfg.Bodies
		if len(bodies) == 0 {
			bodies = make([]string, len(models.ClassicalBodies))
			for i, b := range models.ClassicalBodies {
				bodies[i] = string(b)
			}
		}
		seen := make(map[string]struct{}, len(bodies))
		for _, b := range bodies {
			if _, dup := seen[b]; dup {
				return nil, models.NewConfigurationError("aspects.bodies", "duplicate body %q", b)
			}
			seen[b] = struct{}{}
			d.bodies = append(d.bodies, b)
		}
	}
	return d, nil
}

// Detect returns at most one aspect per unordered pair, sorted by significance,
// then point1, then point2. Configured bodies absent from points are skipped.
func (d *Detector) Detect(points map[string]models.Point) []models.Aspect {
	names := d.order(points)

	type key struct {
		a, b string
		kind models.AspectKind
	}
	seen := make(map[key]struct{})
	out := make([]models.Aspect, 0)

	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			p1, p2 := points[names[i]], points[names[j]]
			asp, ok := d.classify(p1.Longitude, p2.Longitude)
			if !ok {
				continue
			}
			a, b := names[i], names[j]
			if a > b {
				a, b = b, a
			}
			k := key{a: a, b: b, kind: asp.Kind}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			asp.Point1, asp.Point2 = names[i], names[j]
			out = append(out, asp)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if ri, rj := out[i].Kind.Rank(), out[j].Kind.Rank(); ri != rj {
			return ri < rj
		}
		if out[i].Point1 != out[j].Point1 {
			return out[i].Point1 < out[j].Point1
		}
		return out[i].Point2 < out[j].Point2
	})
	return out
}

// Between classifies a single pair of longitudes.
func (d *Detector) Between(a, b float64) (models.Aspect, bool) {
	return d.classify(a, b)
}

// classify picks the smallest-orb matching rule; rules are rank ordered so
// an exact tie goes to the more significant kind.
func (d *Detector) classify(a, b float64) (models.Aspect, bool) {
	sep := zodiac.Separation(a, b)
	best := -1
	bestOrb := math.Inf(1)
	for i, r := range d.rules {
		orb := math.Abs(sep - r.angle)
		if orb <= r.maxOrb && orb < bestOrb {
			best, bestOrb = i, orb
		}
	}
	if best < 0 {
		return models.Aspect{}, false
	}
	return models.Aspect{
		Kind:       d.rules[best].kind,
		Separation: sep,
		Orb:        bestOrb,
		Difference: zodiac.Decompose(sep),
	}, true
}

func (d *Detector) order(points map[string]models.Point) []string {
	if d.allPoints {
		names := make([]string, 0, len(points))
		for name := range points {
			names = append(names, name)
		}
		sort.Strings(names)
		return names
	}
	names := make([]string, 0, len(d.bodies))
	for _, b := range d.bodies {
		if _, ok := points[b]; ok {
			names = append(names, b)
		}
	}
	return names
}
