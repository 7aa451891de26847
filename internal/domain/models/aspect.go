package models

import (
	"fmt"
	"strings"
)

// AspectKind enumerates the supported angular relationships.
type AspectKind string

const (
	Conjunction AspectKind = "Conjunction"
	Sextile     AspectKind = "Sextile"
	Square      AspectKind = "Square"
	Trine       AspectKind = "Trine"
	Opposition  AspectKind = "Opposition"
)

var aspectAngles = map[AspectKind]float64{
	Conjunction: 0,
	Sextile:     60,
	Square:      90,
	Trine:       120,
	Opposition:  180,
}

// significance: Conjunction < Opposition < Square < Trine < Sextile
var aspectRanks = map[AspectKind]int{
	Conjunction: 0,
	Opposition:  1,
	Square:      2,
	Trine:       3,
	Sextile:     4,
}

// ParseAspectKind resolves a kind name case-insensitively.
func ParseAspectKind(name string) (AspectKind, bool) {
	for k := range aspectAngles {
		if strings.EqualFold(string(k), strings.TrimSpace(name)) {
			return k, true
		}
	}
	return "", false
}

// Angle is the exact separation of the kind in degrees.
func (k AspectKind) Angle() float64 { return aspectAngles[k] }

// Rank orders kinds by significance, lower first. Unknown kinds sort last.
func (k AspectKind) Rank() int {
	if r, ok := aspectRanks[k]; ok {
		return r
	}
	return len(aspectRanks)
}

// AspectRule is one entry of an aspect table.
type AspectRule struct {
	Kind   string  `json:"kind" yaml:"kind"`
	MaxOrb float64 `json:"max_orb" yaml:"max_orb"`
}

// AspectTable maps an exact angle in degrees to its rule.
type AspectTable map[float64]AspectRule

// DefaultAspectTable returns a fresh copy of the standard orbs.
func DefaultAspectTable() AspectTable {
	return AspectTable{
		0:   {Kind: string(Conjunction), MaxOrb: 8},
		60:  {Kind: string(Sextile), MaxOrb: 6},
		90:  {Kind: string(Square), MaxOrb: 8},
		120: {Kind: string(Trine), MaxOrb: 8},
		180: {Kind: string(Opposition), MaxOrb: 8},
	}
}

// Aspect is an unordered pair of points in a recognised angular relationship.
type Aspect struct {
	Point1     string       `json:"point1"`
	Point2     string       `json:"point2"`
	Kind       AspectKind   `json:"kind"`
	Separation float64      `json:"separation"`
	Orb        float64      `json:"orb"`
	Difference SignPosition `json:"difference"`
}

func (a Aspect) String() string {
	return fmt.Sprintf("%s %s %s (orb %.2f)", a.Point1, a.Kind, a.Point2, a.Orb)
}
