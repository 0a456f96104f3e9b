package pricing

import (
	"math"
	"strings"
	"time"

	"ne-autoprice/internal/config"
)

// Metal routes which change ratio applies to a product.
type Metal string

const (
	MetalGold     Metal = "gold"
	MetalPlatinum Metal = "platinum"
	MetalNone     Metal = ""
)

// Rules holds the configured repricing predicates: business-day calendar,
// product eligibility markers and the materiality threshold. All methods are
// pure functions of their inputs.
type Rules struct {
	holidays        map[string]struct{}
	prefixes        []string
	goldMarkers     []string
	platinumMarkers []string
	threshold       float64
}

func NewRules(cfg *config.Config) *Rules {
	holidays := make(map[string]struct{}, len(cfg.Holidays))
	for _, day := range cfg.Holidays {
		holidays[day] = struct{}{}
	}
	return &Rules{
		holidays:        holidays,
		prefixes:        cfg.ProductPrefixes,
		goldMarkers:     cfg.GoldMarkers,
		platinumMarkers: cfg.PlatinumMarkers,
		threshold:       cfg.MaterialityThreshold,
	}
}

// IsBusinessDay is false on Saturday/Sunday and on configured holidays.
func (r *Rules) IsBusinessDay(t time.Time) bool {
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	_, holiday := r.holidays[t.Format("2006-01-02")]
	return !holiday
}

// ShouldUpdateProduct is the canonical eligibility filter: the name must
// start with one of the grade prefixes and contain a metal marker.
func (r *Rules) ShouldUpdateProduct(name string) bool {
	return r.MetalType(name) != MetalNone
}

// MetalType reports which ratio applies. Platinum markers take precedence
// over gold markers; ineligible names map to MetalNone.
func (r *Rules) MetalType(name string) Metal {
	var prefixed bool
	for _, prefix := range r.prefixes {
		if strings.HasPrefix(name, prefix) {
			prefixed = true
			break
		}
	}
	if !prefixed {
		return MetalNone
	}
	for _, marker := range r.platinumMarkers {
		if strings.Contains(name, marker) {
			return MetalPlatinum
		}
	}
	for _, marker := range r.goldMarkers {
		if strings.Contains(name, marker) {
			return MetalGold
		}
	}
	return MetalNone
}

// Negligible reports whether both ratios fall under the materiality
// threshold. A missing platinum ratio gates on gold alone.
func (r *Rules) Negligible(goldRatio float64, platinumRatio *float64) bool {
	if math.Abs(goldRatio) >= r.threshold {
		return false
	}
	return platinumRatio == nil || math.Abs(*platinumRatio) < r.threshold
}

// ChangeRatio is the day-over-day change, zero-guarded against an empty
// baseline.
func ChangeRatio(current, previous float64) float64 {
	if previous == 0 {
		return 0
	}
	return (current - previous) / previous
}

// RoundUpToTen rounds up to the nearest unit of ten regardless of direction
// of movement (conservative-seller bias).
func RoundUpToTen(x float64) float64 {
	return math.Ceil(x/10) * 10
}
