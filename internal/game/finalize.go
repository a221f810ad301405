package game

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"bakesim/internal/refdata"
)

// marketKey identifies one (channel, cake) market cell.
type marketKey struct {
	Channel string
	Cake    string
}

type planSubmission struct {
	Team     string
	Lines    []PlanLine
	Required map[string]float64
}

// priceSheet is the most recent usable price record for a team, carrying the
// round it was actually submitted in.
type priceSheet struct {
	Team      string
	RoundUsed int
	Lines     []PriceLine
}

// roundSnapshot holds everything the settlement computation needs, loaded in
// a single pass so the compute phase runs over in-memory structures only.
type roundSnapshot struct {
	Round     int
	Teams     []TeamState
	Plans     map[string]planSubmission
	Prices    map[string]priceSheet
	Transport map[string]float64            // channel -> cost per unit
	Packaging map[string]float64            // cake -> cost per unit
	Recipes   map[string]map[string]float64 // lower(cake) -> ingredient -> qty per unit
}

// FinalizeRound settles one round: backfills missing price sheets, loads a
// snapshot, computes every team's result in memory, and writes the results
// back. Safe to invoke repeatedly for the same round; teams whose
// last_finalized_round already covers the round are never rewritten, so a
// partially failed run can be retried.
func (s *Service) FinalizeRound(ctx context.Context, round int) error {
	if round < 1 {
		return ErrInvalidRound
	}
	teams, err := s.loadTeams(ctx)
	if err != nil {
		return fmt.Errorf("finalize round %d: load teams: %w", round, err)
	}
	if allFinalized(teams, round) {
		s.log.Info("round already finalized, skipping", "round", round)
		return nil
	}
	s.log.Info("finalizing round", "round", round, "teams", len(teams))

	if err := s.backfillPrices(ctx, round, teams); err != nil {
		return fmt.Errorf("finalize round %d: price backfill: %w", round, err)
	}
	snap, err := s.loadRoundSnapshot(ctx, round, teams)
	if err != nil {
		return fmt.Errorf("finalize round %d: load snapshot: %w", round, err)
	}

	results := computeRound(snap, s.ref, s.log)

	settled := 0
	for i, res := range results {
		if teams[i].LastFinalizedRound >= round {
			s.log.Info("team already finalized, skipping write", "team", res.Team, "round", round)
			continue
		}
		if err := s.writeTeamResult(ctx, round, res); err != nil {
			return fmt.Errorf("finalize round %d: write team %s: %w", round, res.Team, err)
		}
		if res.Settled {
			settled++
		}
	}
	s.log.Info("round finalized", "round", round, "settled", settled, "carried", len(results)-settled)
	return nil
}

// allFinalized reports the whole-run no-op condition: a non-empty team list
// where every team already sits exactly at the target round.
func allFinalized(teams []TeamState, round int) bool {
	if len(teams) == 0 {
		return false
	}
	for _, t := range teams {
		if t.LastFinalizedRound != round {
			return false
		}
	}
	return true
}

func (s *Service) loadTeams(ctx context.Context) ([]TeamState, error) {
	rows, err := s.db.Query(ctx, `
		SELECT team_name, money, stock_value, last_finalized_round
		FROM game.teams
		ORDER BY team_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TeamState
	for rows.Next() {
		var t TeamState
		if err := rows.Scan(&t.Name, &t.Money, &t.StockValue, &t.LastFinalizedRound); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// priorSheet is one earlier price row consulted during backfill.
type priorSheet struct {
	Round int
	Raw   string
}

// backfillRecord is the row inserted for a team with no sheet this round.
type backfillRecord struct {
	PricesJSON      string
	CopiedFromRound *int // nil when the team never priced anything
}

// chooseBackfill picks the most recent sheet submitted before round, carrying
// its lines verbatim with provenance, or an empty sheet when no earlier one
// exists.
func chooseBackfill(prior []priorSheet, round int) backfillRecord {
	best := -1
	idx := -1
	for i, p := range prior {
		if p.Round < round && p.Round > best {
			best = p.Round
			idx = i
		}
	}
	if idx < 0 {
		return backfillRecord{PricesJSON: "[]"}
	}
	src := prior[idx].Round
	return backfillRecord{PricesJSON: prior[idx].Raw, CopiedFromRound: &src}
}

// backfillPrices guarantees every team has a price record for the round,
// copying the most recent earlier sheet (with provenance) or inserting an
// empty one for teams that never priced anything.
func (s *Service) backfillPrices(ctx context.Context, round int, teams []TeamState) error {
	for _, t := range teams {
		var exists bool
		if err := s.db.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM game.prices
				WHERE team_name = $1 AND round_number = $2
			)
		`, t.Name, round).Scan(&exists); err != nil {
			return err
		}
		if exists {
			continue
		}

		rows, err := s.db.Query(ctx, `
			SELECT round_number, prices_json
			FROM game.prices
			WHERE team_name = $1 AND round_number < $2
		`, t.Name, round)
		if err != nil {
			return err
		}
		var prior []priorSheet
		for rows.Next() {
			var p priorSheet
			if err := rows.Scan(&p.Round, &p.Raw); err != nil {
				rows.Close()
				return err
			}
			prior = append(prior, p)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		rec := chooseBackfill(prior, round)
		if _, err := s.db.Exec(ctx, `
			INSERT INTO game.prices (team_name, round_number, prices_json, finalized, auto_filled, copied_from_round)
			VALUES ($1, $2, $3, true, true, $4)
		`, t.Name, round, rec.PricesJSON, rec.CopiedFromRound); err != nil {
			return err
		}
		if rec.CopiedFromRound != nil {
			s.log.Info("auto-filled prices", "team", t.Name, "from_round", *rec.CopiedFromRound, "round", round)
		} else {
			s.log.Warn("no prior prices, inserted empty sheet", "team", t.Name, "round", round)
		}
	}
	return nil
}

func (s *Service) loadRoundSnapshot(ctx context.Context, round int, teams []TeamState) (*roundSnapshot, error) {
	snap := &roundSnapshot{
		Round:     round,
		Teams:     teams,
		Plans:     make(map[string]planSubmission),
		Prices:    make(map[string]priceSheet),
		Transport: make(map[string]float64),
		Packaging: make(map[string]float64),
		Recipes:   make(map[string]map[string]float64),
	}

	planRows, err := s.db.Query(ctx, `
		SELECT team_name, plan_json, required_json
		FROM game.production_plans
		WHERE round_number = $1
	`, round)
	if err != nil {
		return nil, fmt.Errorf("load plans: %w", err)
	}
	defer planRows.Close()
	for planRows.Next() {
		var team string
		var planRaw, requiredRaw []byte
		if err := planRows.Scan(&team, &planRaw, &requiredRaw); err != nil {
			return nil, err
		}
		sub := planSubmission{Team: team, Required: map[string]float64{}}
		if len(planRaw) > 0 {
			if err := json.Unmarshal(planRaw, &sub.Lines); err != nil {
				return nil, fmt.Errorf("decode plan for %s: %w", team, err)
			}
		}
		if len(requiredRaw) > 0 {
			if err := json.Unmarshal(requiredRaw, &sub.Required); err != nil {
				return nil, fmt.Errorf("decode required resources for %s: %w", team, err)
			}
		}
		snap.Plans[team] = sub
	}
	if err := planRows.Err(); err != nil {
		return nil, err
	}

	// Most recent sheet per team wins; rows arrive newest first.
	priceRows, err := s.db.Query(ctx, `
		SELECT team_name, round_number, prices_json
		FROM game.prices
		WHERE round_number <= $1
		ORDER BY round_number DESC
	`, round)
	if err != nil {
		return nil, fmt.Errorf("load price history: %w", err)
	}
	defer priceRows.Close()
	for priceRows.Next() {
		var team string
		var roundUsed int
		var raw []byte
		if err := priceRows.Scan(&team, &roundUsed, &raw); err != nil {
			return nil, err
		}
		if _, seen := snap.Prices[team]; seen {
			continue
		}
		sheet := priceSheet{Team: team, RoundUsed: roundUsed}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &sheet.Lines); err != nil {
				return nil, fmt.Errorf("decode prices for %s: %w", team, err)
			}
		}
		snap.Prices[team] = sheet
	}
	if err := priceRows.Err(); err != nil {
		return nil, err
	}

	chRows, err := s.db.Query(ctx, `SELECT channel, transport_cost_per_unit_usd FROM game.channels`)
	if err != nil {
		return nil, fmt.Errorf("load channels: %w", err)
	}
	defer chRows.Close()
	for chRows.Next() {
		var channel string
		var cost float64
		if err := chRows.Scan(&channel, &cost); err != nil {
			return nil, err
		}
		snap.Transport[channel] = cost
	}
	if err := chRows.Err(); err != nil {
		return nil, err
	}

	cakeRows, err := s.db.Query(ctx, `SELECT name, packaging_cost_per_unit_usd FROM game.cakes`)
	if err != nil {
		return nil, fmt.Errorf("load cakes: %w", err)
	}
	defer cakeRows.Close()
	for cakeRows.Next() {
		var name string
		var cost float64
		if err := cakeRows.Scan(&name, &cost); err != nil {
			return nil, err
		}
		snap.Packaging[name] = cost
	}
	if err := cakeRows.Err(); err != nil {
		return nil, err
	}

	recipeRows, err := s.db.Query(ctx, `SELECT cake_name, ingredient, qty_per_unit FROM game.recipes`)
	if err != nil {
		return nil, fmt.Errorf("load recipes: %w", err)
	}
	defer recipeRows.Close()
	for recipeRows.Next() {
		var cake, ingredient string
		var qty float64
		if err := recipeRows.Scan(&cake, &ingredient, &qty); err != nil {
			return nil, err
		}
		key := strings.ToLower(cake)
		if snap.Recipes[key] == nil {
			snap.Recipes[key] = make(map[string]float64)
		}
		snap.Recipes[key][ingredient] = qty
	}
	return snap, recipeRows.Err()
}

// computeRound is the pure settlement phase: given a snapshot and the
// reference bundle it produces one result per team, in team order, with no
// side effects beyond audit logging.
func computeRound(snap *roundSnapshot, ref *refdata.Bundle, log *slog.Logger) []TeamResult {
	if log == nil {
		log = slog.Default()
	}
	producing := producingCakes(snap.Plans)
	avg := marketAverages(snap.Prices, producing)

	results := make([]TeamResult, 0, len(snap.Teams))
	for _, t := range snap.Teams {
		if plan, ok := snap.Plans[t.Name]; ok {
			results = append(results, settleTeam(t, plan, snap.Prices[t.Name].Lines, avg, snap, ref, log))
		} else {
			results = append(results, carryForward(t))
		}
	}
	return results
}

// producingCakes maps each team to the set of cakes its plan actually
// produces this round.
func producingCakes(plans map[string]planSubmission) map[string]map[string]bool {
	out := make(map[string]map[string]bool, len(plans))
	for team, plan := range plans {
		cakes := make(map[string]bool, len(plan.Lines))
		for _, l := range plan.Lines {
			cakes[l.Cake] = true
		}
		out[team] = cakes
	}
	return out
}

// marketAverages computes the mean listed price per (channel, cake) over
// teams that produce that cake this round. Listed prices for cakes a team no
// longer makes do not move the market.
func marketAverages(prices map[string]priceSheet, producing map[string]map[string]bool) map[marketKey]float64 {
	sums := make(map[marketKey]float64)
	counts := make(map[marketKey]int)
	for team, sheet := range prices {
		cakes := producing[team]
		if len(cakes) == 0 {
			continue
		}
		for _, l := range sheet.Lines {
			if !cakes[l.Cake] {
				continue
			}
			k := marketKey{Channel: l.Channel, Cake: l.Cake}
			sums[k] += l.PriceUSD
			counts[k]++
		}
	}
	out := make(map[marketKey]float64, len(sums))
	for k, sum := range sums {
		out[k] = sum / float64(counts[k])
	}
	return out
}

// requiredIngredients totals planned quantity per cake and expands it
// through recipes into per-ingredient needs. Cakes without a recipe
// contribute nothing.
func requiredIngredients(lines []PlanLine, recipes map[string]map[string]float64) map[string]float64 {
	totals := make(map[string]float64)
	for _, l := range lines {
		totals[l.Cake] += l.Qty
	}
	needs := make(map[string]float64)
	for cake, qty := range totals {
		recipe, ok := recipes[strings.ToLower(cake)]
		if !ok {
			continue
		}
		for ingredient, perUnit := range recipe {
			needs[ingredient] += qty * perUnit
		}
	}
	return needs
}

// ownPrice finds the team's submitted price for a (cake, channel) pair,
// first match wins when duplicates exist.
func ownPrice(lines []PriceLine, cake, channel string) (float64, bool) {
	for _, l := range lines {
		if l.Cake == cake && l.Channel == channel {
			return l.PriceUSD, true
		}
	}
	return 0, false
}

func settleTeam(t TeamState, plan planSubmission, ownLines []PriceLine, avg map[marketKey]float64, snap *roundSnapshot, ref *refdata.Bundle, log *slog.Logger) TeamResult {
	needs := requiredIngredients(plan.Lines, snap.Recipes)
	var ingredientCost float64
	for ingredient, qty := range needs {
		cost, ok := ref.IngredientCost(ingredient)
		if !ok {
			log.Warn("no unit cost for ingredient, treated as free", "team", t.Name, "ingredient", ingredient)
			continue
		}
		ingredientCost += qty * cost
	}
	var capacityCost float64
	for category, hours := range plan.Required {
		rate, ok := ref.WageRate(category)
		if !ok {
			log.Warn("no wage rate for category, treated as free", "team", t.Name, "category", category)
			continue
		}
		capacityCost += hours * rate
	}
	resourceCost := ingredientCost + capacityCost

	produced := make(map[string]bool, len(plan.Lines))
	for _, l := range plan.Lines {
		produced[l.Cake] = true
	}

	var profit, transport, packaging float64
	for _, line := range plan.Lines {
		qty := math.Floor(line.Qty)
		k := marketKey{Channel: line.Channel, Cake: line.Cake}
		avgPrice, hasAvg := avg[k]

		var price float64
		own, hasOwn := ownPrice(ownLines, line.Cake, line.Channel)
		if !produced[line.Cake] || !hasOwn {
			if hasAvg {
				price = avgPrice
			}
			log.Info("using market price for line", "team", t.Name, "cake", line.Cake, "channel", line.Channel, "price", price)
		} else {
			price = own
		}

		params, ok := ref.Demand(line.Cake, line.Channel)
		if !ok {
			log.Warn("no demand params, line skipped", "team", t.Name, "cake", line.Cake, "channel", line.Channel)
			continue
		}

		// Without a market aggregate the competitive gap is zero.
		avgP := price
		if hasAvg {
			avgP = avgPrice
		}
		demand := math.Floor(params.Alpha - params.Beta*price + params.Gamma*(avgP-price))
		if demand < 0 {
			demand = 0
		}
		sold := math.Min(qty, demand)

		revenue := sold * price
		lineTransport := sold * snap.Transport[line.Channel]
		linePackaging := sold * snap.Packaging[line.Cake]

		profit += revenue - lineTransport - linePackaging
		transport += lineTransport
		packaging += linePackaging
	}

	money := t.Money + profit
	stock := math.Max(t.StockValue-resourceCost, 0)
	return TeamResult{
		Team:          t.Name,
		Settled:       true,
		Profit:        profit,
		TransportCost: transport,
		PackagingCost: packaging,
		ResourceCost:  resourceCost,
		Money:         money,
		StockValue:    stock,
		TotalValue:    money + stock,
	}
}

// carryForward recomputes total value for a team that submitted no plan,
// leaving money, stock, and the last-round cost snapshot untouched.
func carryForward(t TeamState) TeamResult {
	return TeamResult{
		Team:       t.Name,
		Money:      t.Money,
		StockValue: t.StockValue,
		TotalValue: t.Money + t.StockValue,
	}
}

func (s *Service) writeTeamResult(ctx context.Context, round int, res TeamResult) error {
	if res.Settled {
		if _, err := s.db.Exec(ctx, `
			UPDATE game.teams
			SET money = $1,
			    stock_value = $2,
			    total_value = $3,
			    last_profit = $4,
			    last_transport_cost = $5,
			    last_resource_cost = $6,
			    last_packaging_cost = $7,
			    last_finalized_round = $8
			WHERE team_name = $9
		`, res.Money, res.StockValue, res.TotalValue,
			res.Profit, res.TransportCost, res.ResourceCost, res.PackagingCost,
			round, res.Team); err != nil {
			return err
		}
		_, err := s.db.Exec(ctx, `
			UPDATE game.production_plans
			SET profit_usd = $1
			WHERE team_name = $2 AND round_number = $3
		`, res.Profit, res.Team, round)
		return err
	}

	// Carry-forward rewrites money and stock unchanged to keep one uniform
	// write path; the last_* cost fields keep their prior-round values.
	_, err := s.db.Exec(ctx, `
		UPDATE game.teams
		SET money = $1,
		    stock_value = $2,
		    total_value = $3,
		    last_finalized_round = $4
		WHERE team_name = $5
	`, res.Money, res.StockValue, res.TotalValue, round, res.Team)
	return err
}
