// Package refdata loads the static per-simulation parameters that the
// settlement engine consumes: demand curves, ingredient unit costs, and wage
// rates. The bundle is immutable once loaded and is passed explicitly into
// the engine so a finalization run never reads ambient state.
package refdata

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	demandFile      = "demand_competition.csv"
	ingredientsFile = "ingredients.csv"
	wagesFile       = "wages_energy.csv"
)

// wageParams maps the wage category used in required_json to the parameter
// name carried in wages_energy.csv.
var wageParams = map[string]string{
	"prep":        "prep_wage_usd_per_hour",
	"oven":        "oven_wage_usd_per_hour",
	"package":     "package_wage_usd_per_hour",
	"oven rental": "oven_rental_wage_usd_per_hour",
}

type DemandKey struct {
	Cake    string
	Channel string
}

// DemandParams is the linear demand curve for one (cake, channel) pair:
// demand = alpha - beta*own_price + gamma*(avg_price - own_price).
type DemandParams struct {
	Alpha float64
	Beta  float64
	Gamma float64
}

type Bundle struct {
	demand      map[DemandKey]DemandParams
	ingredients map[string]float64
	wages       map[string]float64
}

// NewBundle builds a bundle from already-parsed tables. Ingredient and wage
// keys are normalized to lower case.
func NewBundle(demand map[DemandKey]DemandParams, ingredients, wages map[string]float64) *Bundle {
	b := &Bundle{
		demand:      make(map[DemandKey]DemandParams, len(demand)),
		ingredients: make(map[string]float64, len(ingredients)),
		wages:       make(map[string]float64, len(wages)),
	}
	for k, v := range demand {
		b.demand[k] = v
	}
	for k, v := range ingredients {
		b.ingredients[strings.ToLower(strings.TrimSpace(k))] = v
	}
	for k, v := range wages {
		b.wages[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return b
}

// Load reads the three reference CSVs from dir. A missing wage parameter row
// simply leaves that category out of the bundle; a missing file is an error.
func Load(dir string) (*Bundle, error) {
	b := &Bundle{
		demand:      make(map[DemandKey]DemandParams),
		ingredients: make(map[string]float64),
		wages:       make(map[string]float64),
	}

	if err := readCSV(filepath.Join(dir, demandFile), func(row map[string]string) error {
		alpha, err := parseField(row, "alpha")
		if err != nil {
			return err
		}
		beta, err := parseField(row, "beta")
		if err != nil {
			return err
		}
		gamma, err := parseField(row, "gamma_competition")
		if err != nil {
			return err
		}
		key := DemandKey{
			Cake:    strings.TrimSpace(row["cake_name"]),
			Channel: strings.TrimSpace(row["channel"]),
		}
		b.demand[key] = DemandParams{Alpha: alpha, Beta: beta, Gamma: gamma}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("load demand params: %w", err)
	}

	if err := readCSV(filepath.Join(dir, ingredientsFile), func(row map[string]string) error {
		cost, err := parseField(row, "unit_cost_usd")
		if err != nil {
			return err
		}
		b.ingredients[strings.ToLower(strings.TrimSpace(row["ingredient"]))] = cost
		return nil
	}); err != nil {
		return nil, fmt.Errorf("load ingredient costs: %w", err)
	}

	params := make(map[string]float64)
	if err := readCSV(filepath.Join(dir, wagesFile), func(row map[string]string) error {
		v, err := parseField(row, "value")
		if err != nil {
			return err
		}
		params[strings.TrimSpace(row["parameter"])] = v
		return nil
	}); err != nil {
		return nil, fmt.Errorf("load wage rates: %w", err)
	}
	for category, param := range wageParams {
		if v, ok := params[param]; ok {
			b.wages[category] = v
		}
	}

	return b, nil
}

// Demand returns the demand curve for a (cake, channel) pair. A missing
// entry means the line item does not sell at all; callers skip it.
func (b *Bundle) Demand(cake, channel string) (DemandParams, bool) {
	p, ok := b.demand[DemandKey{Cake: cake, Channel: channel}]
	return p, ok
}

// IngredientCost returns the unit cost for an ingredient (case-insensitive).
// Callers treat a miss as zero cost.
func (b *Bundle) IngredientCost(ingredient string) (float64, bool) {
	c, ok := b.ingredients[strings.ToLower(strings.TrimSpace(ingredient))]
	return c, ok
}

// WageRate returns the hourly rate for a labor category (case-insensitive).
// Callers treat a miss as zero cost.
func (b *Bundle) WageRate(category string) (float64, bool) {
	w, ok := b.wages[strings.ToLower(strings.TrimSpace(category))]
	return w, ok
}

func (b *Bundle) DemandEntries() int     { return len(b.demand) }
func (b *Bundle) IngredientEntries() int { return len(b.ingredients) }
func (b *Bundle) WageEntries() int       { return len(b.wages) }

func readCSV(path string, each func(row map[string]string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if len(records) == 0 {
		return fmt.Errorf("%s: empty file", filepath.Base(path))
	}
	header := records[0]
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}
	for _, rec := range records[1:] {
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		if err := each(row); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func parseField(row map[string]string, col string) (float64, error) {
	raw, ok := row[col]
	if !ok {
		return 0, fmt.Errorf("missing column %q", col)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("column %q: %w", col, err)
	}
	return v, nil
}
