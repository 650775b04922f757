package classify

import (
	"reflect"
	"strings"
	"testing"

	"github.com/kilianp07/movedispatch/core/model"
)

func defaultRules(t *testing.T) *Rules {
	t.Helper()
	r, err := Load("")
	if err != nil {
		t.Fatalf("load default catalog: %v", err)
	}
	return r
}

func TestClassifySofaAndBed(t *testing.T) {
	r := defaultRules(t)
	res := r.Classify(map[string]int{"sofa_3seater": 1, "bed_140": 1}, nil, model.TierLight)

	if res.TotalItems != 2 {
		t.Fatalf("items = %d, want 2", res.TotalItems)
	}
	wantWeight := r.Catalog["sofa_3seater"].WeightKg + r.Catalog["bed_140"].WeightKg
	if res.TotalWeightKg != wantWeight {
		t.Fatalf("weight = %v, want %v", res.TotalWeightKg, wantWeight)
	}
	if res.TotalPoints <= r.Table.LightMaxPoints {
		t.Fatalf("fixture should exceed the light threshold, got %v", res.TotalPoints)
	}
	if !res.RequiresUpgrade || res.UpgradeFrom != model.TierLight || res.UpgradeTo != model.TierRegular {
		t.Fatalf("unexpected upgrade: %+v", res)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "Sofa") {
		t.Fatalf("warning should name the sofa: %v", res.Warnings)
	}
}

func TestClassifyEmptyInventory(t *testing.T) {
	r := defaultRules(t)
	res := r.Classify(nil, nil, model.TierLight)
	want := Result{RecommendedTier: model.TierLight, Warnings: []string{}}
	if !reflect.DeepEqual(res, want) {
		t.Fatalf("got %+v want %+v", res, want)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	r := defaultRules(t)
	sel := map[string]int{"box_standard": 13, "chair": 4, "sofa_3seater": 1, "tv": 2, "wardrobe": 1}
	w := 3.3
	custom := []CustomItem{{ID: "c1", Name: "Aquarium", Qty: 1, WeightKg: &w}}
	first := r.Classify(sel, custom, model.TierLight)
	for i := 0; i < 50; i++ {
		got := r.Classify(sel, custom, model.TierLight)
		if !reflect.DeepEqual(first, got) {
			t.Fatalf("run %d differs: %+v vs %+v", i, first, got)
		}
	}
}

func TestClassifyUnknownItemIsCustom(t *testing.T) {
	r := defaultRules(t)
	res := r.Classify(map[string]int{"spaceship": 2}, nil, model.TierLight)
	if res.TotalItems != 2 {
		t.Fatalf("items = %d", res.TotalItems)
	}
	if res.TotalWeightKg != 2*r.Table.DefaultCustomWeightKg {
		t.Fatalf("weight = %v", res.TotalWeightKg)
	}
	if res.TotalPoints != 2*r.Table.CustomItemPoints {
		t.Fatalf("points = %v", res.TotalPoints)
	}
}

func TestClassifyPerItemFloor(t *testing.T) {
	r := defaultRules(t)
	res := r.Classify(map[string]int{"piano_upright": 1}, nil, model.TierRegular)
	if res.RecommendedTier != model.TierPremium {
		t.Fatalf("tier = %s", res.RecommendedTier)
	}
	if !res.RequiresUpgrade || res.UpgradeFrom != model.TierRegular {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Warnings) == 0 || !strings.Contains(res.Warnings[0], "Upright piano") {
		t.Fatalf("warnings = %v", res.Warnings)
	}
}

func TestClassifyNoUpgradeWhenCurrentIsHigher(t *testing.T) {
	r := defaultRules(t)
	res := r.Classify(map[string]int{"sofa_3seater": 1, "bed_140": 1}, nil, model.TierPremium)
	if res.RequiresUpgrade || res.UpgradeFrom != "" || len(res.Warnings) != 0 {
		t.Fatalf("unexpected upgrade %+v", res)
	}
}

func TestCustomItemDefaults(t *testing.T) {
	table := Table{LightMaxPoints: 1, RegularMaxPoints: 2, CustomItemPoints: 1.5, DefaultCustomWeightKg: 12}
	w := 30.0
	res := Classify(nil, []CustomItem{{Name: "Box of books", Qty: 0}, {Name: "Desk", Qty: 2, WeightKg: &w}}, "", Catalog{}, table)
	if res.TotalItems != 3 || res.TotalWeightKg != 72 || res.TotalPoints != 4.5 {
		t.Fatalf("unexpected totals %+v", res)
	}
	if res.RecommendedTier != model.TierPremium || res.UpgradeFrom != model.TierLight {
		t.Fatalf("unexpected tier %+v", res)
	}
	if !strings.Contains(res.Warnings[0], "Desk (3)") {
		t.Fatalf("largest contributor missing: %v", res.Warnings)
	}
}

func TestTierForInclusiveLimits(t *testing.T) {
	table := Table{LightMaxPoints: 8, RegularMaxPoints: 25}
	cases := map[float64]model.Tier{0: model.TierLight, 8: model.TierLight, 8.01: model.TierRegular, 25: model.TierRegular, 26: model.TierPremium}
	for pts, want := range cases {
		if got := table.TierFor(pts); got != want {
			t.Errorf("TierFor(%v) = %s want %s", pts, got, want)
		}
	}
}

func TestParseRejectsBadCatalog(t *testing.T) {
	bad := []string{
		"[thresholds]\nlight_max_points = 10\nregular_max_points = 5\n",
		"[thresholds]\nlight_max_points = 1\nregular_max_points = 5\n[[items]]\nname = \"x\"\n",
		"[thresholds]\nlight_max_points = 1\nregular_max_points = 5\n[[items]]\nid = \"a\"\nmin_tier = \"gold\"\n",
		"[thresholds]\nlight_max_points = 1\nregular_max_points = 5\n[[items]]\nid = \"a\"\n[[items]]\nid = \"a\"\n",
	}
	for i, b := range bad {
		if _, err := Parse([]byte(b)); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}
