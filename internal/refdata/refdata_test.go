package refdata

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestData(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		demandFile: "cake_name,channel,alpha,beta,gamma_competition\n" +
			"Vanilla,Retail,50,1,0\n" +
			"Chocolate,Wholesale,120,2.5,0.8\n",
		ingredientsFile: "ingredient,unit_cost_usd\n" +
			"Flour,0.40\n" +
			"sugar,0.25\n",
		wagesFile: "parameter,value\n" +
			"prep_wage_usd_per_hour,12\n" +
			"oven_wage_usd_per_hour,15\n" +
			"oven_rental_wage_usd_per_hour,8.5\n",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func TestLoad(t *testing.T) {
	b, err := Load(writeTestData(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	p, ok := b.Demand("Chocolate", "Wholesale")
	if !ok {
		t.Fatalf("expected demand params for Chocolate/Wholesale")
	}
	if p.Alpha != 120 || p.Beta != 2.5 || p.Gamma != 0.8 {
		t.Fatalf("unexpected params: %+v", p)
	}
	if _, ok := b.Demand("Chocolate", "Retail"); ok {
		t.Fatalf("expected no params for Chocolate/Retail")
	}

	// Ingredient lookup is case-insensitive.
	if c, ok := b.IngredientCost("FLOUR"); !ok || c != 0.40 {
		t.Fatalf("flour cost: got %v ok=%v", c, ok)
	}
	if _, ok := b.IngredientCost("vanilla extract"); ok {
		t.Fatalf("expected unknown ingredient to miss")
	}

	if w, ok := b.WageRate("Oven Rental"); !ok || w != 8.5 {
		t.Fatalf("oven rental wage: got %v ok=%v", w, ok)
	}
	// package_wage_usd_per_hour absent from the file: category left out.
	if _, ok := b.WageRate("package"); ok {
		t.Fatalf("expected missing wage parameter to be absent")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatalf("expected error for missing reference files")
	}
}

func TestNewBundleNormalizesKeys(t *testing.T) {
	b := NewBundle(nil, map[string]float64{" Butter ": 1.2}, map[string]float64{"Prep": 10})
	if c, ok := b.IngredientCost("butter"); !ok || c != 1.2 {
		t.Fatalf("butter cost: got %v ok=%v", c, ok)
	}
	if w, ok := b.WageRate("prep"); !ok || w != 10 {
		t.Fatalf("prep wage: got %v ok=%v", w, ok)
	}
}
