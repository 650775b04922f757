// Package classify scores a move inventory into weight, points and a
// recommended service tier.
package classify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kilianp07/movedispatch/core/model"
)

// CustomItem is an item the client described that is not in the catalog.
type CustomItem struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Qty      int      `json:"qty"`
	WeightKg *float64 `json:"est_weight_kg,omitempty"`
}

// Result is the outcome of a classification.
type Result struct {
	TotalItems      int        `json:"total_items"`
	TotalWeightKg   float64    `json:"total_weight_kg"`
	TotalPoints     float64    `json:"total_points"`
	RecommendedTier model.Tier `json:"recommended_tier"`
	RequiresUpgrade bool       `json:"requires_upgrade"`
	UpgradeFrom     model.Tier `json:"upgrade_from,omitempty"`
	UpgradeTo       model.Tier `json:"upgrade_to,omitempty"`
	Warnings        []string   `json:"warnings"`
}

// Snapshot returns the part of r stored on a move.
func (r Result) Snapshot() model.ClassificationSnapshot {
	return model.ClassificationSnapshot{
		TotalItems:    r.TotalItems,
		TotalWeightKg: r.TotalWeightKg,
		TotalPoints:   r.TotalPoints,
		Tier:          r.RecommendedTier,
	}
}

type line struct {
	name    string
	points  float64
	minTier model.Tier
}

// Classify computes totals and the tier recommendation for an inventory.
// It has no side effects and returns identical output for identical input.
// Unknown catalog ids are scored like custom items. An empty or unknown
// currentTier is treated as the lowest tier.
func Classify(selections map[string]int, custom []CustomItem, currentTier model.Tier, catalog Catalog, table Table) Result {
	res := Result{Warnings: []string{}}
	var lines []line

	ids := make([]string, 0, len(selections))
	for id, qty := range selections {
		if qty > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		qty := selections[id]
		item, ok := catalog[id]
		if !ok {
			l := addCustom(&res, id, qty, nil, table)
			lines = append(lines, l)
			continue
		}
		pts := table.DefaultItemPoints
		if item.Points != nil {
			pts = *item.Points
		}
		name := item.Name
		if name == "" {
			name = id
		}
		res.TotalItems += qty
		res.TotalWeightKg += item.WeightKg * float64(qty)
		res.TotalPoints += pts * float64(qty)
		lines = append(lines, line{name: name, points: pts * float64(qty), minTier: item.MinTier})
	}

	for _, c := range custom {
		name := c.Name
		if name == "" {
			name = c.ID
		}
		qty := c.Qty
		if qty < 1 {
			qty = 1
		}
		lines = append(lines, addCustom(&res, name, qty, c.WeightKg, table))
	}

	aggregate := table.TierFor(res.TotalPoints)
	final := aggregate
	for _, l := range lines {
		if l.minTier.Valid() {
			final = model.MaxTier(final, l.minTier)
		}
	}
	res.RecommendedTier = final

	current := currentTier
	if !current.Valid() {
		current = model.TierLight
	}
	if final.Rank() <= current.Rank() {
		return res
	}
	res.RequiresUpgrade = true
	res.UpgradeFrom = current
	res.UpgradeTo = final

	for _, l := range lines {
		if l.minTier.Valid() && l.minTier.Rank() > current.Rank() {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s requires the %s tier", l.name, l.minTier))
		}
	}
	if aggregate.Rank() > current.Rank() {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"inventory totals %s points, above the %s tier limit; largest items: %s",
			formatPoints(res.TotalPoints), current, strings.Join(topContributors(lines, 3), ", ")))
	}
	return res
}

func addCustom(res *Result, name string, qty int, weight *float64, table Table) line {
	w := table.DefaultCustomWeightKg
	if weight != nil && *weight > 0 {
		w = *weight
	}
	res.TotalItems += qty
	res.TotalWeightKg += w * float64(qty)
	res.TotalPoints += table.CustomItemPoints * float64(qty)
	return line{name: name, points: table.CustomItemPoints * float64(qty)}
}

func topContributors(lines []line, n int) []string {
	sorted := append([]line(nil), lines...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].points != sorted[j].points {
			return sorted[i].points > sorted[j].points
		}
		return sorted[i].name < sorted[j].name
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	out := make([]string, 0, len(sorted))
	for _, l := range sorted {
		out = append(out, fmt.Sprintf("%s (%s)", l.name, formatPoints(l.points)))
	}
	return out
}

func formatPoints(p float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", p), "0"), ".")
}
