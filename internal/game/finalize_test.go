package game

import (
	"io"
	"log/slog"
	"math"
	"testing"

	"bakesim/internal/refdata"
)

var testLog = slog.New(slog.NewTextHandler(io.Discard, nil))

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func vanillaBundle() *refdata.Bundle {
	return refdata.NewBundle(
		map[refdata.DemandKey]refdata.DemandParams{
			{Cake: "Vanilla", Channel: "Retail"}: {Alpha: 50, Beta: 1, Gamma: 0},
		},
		map[string]float64{"flour": 0.40, "sugar": 0.25},
		map[string]float64{"prep": 12, "oven": 15},
	)
}

func singleTeamSnapshot() *roundSnapshot {
	return &roundSnapshot{
		Round: 3,
		Teams: []TeamState{{Name: "Alpha", Money: 100, StockValue: 500, LastFinalizedRound: 2}},
		Plans: map[string]planSubmission{
			"Alpha": {
				Team:  "Alpha",
				Lines: []PlanLine{{Cake: "Vanilla", Channel: "Retail", Qty: 20}},
			},
		},
		Prices: map[string]priceSheet{
			"Alpha": {Team: "Alpha", RoundUsed: 3, Lines: []PriceLine{{Cake: "Vanilla", Channel: "Retail", PriceUSD: 8}}},
		},
		Transport: map[string]float64{"Retail": 0.50},
		Packaging: map[string]float64{"Vanilla": 0.20},
		Recipes:   map[string]map[string]float64{},
	}
}

func TestSettleEndToEnd(t *testing.T) {
	snap := singleTeamSnapshot()
	results := computeRound(snap, vanillaBundle(), testLog)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]
	if !r.Settled {
		t.Fatalf("expected team to be settled")
	}
	// demand = floor(50 - 8) = 42, sold = min(20, 42) = 20
	// revenue 160, transport 10, packaging 4, profit 146
	if !almostEqual(r.Profit, 146) {
		t.Fatalf("profit: got %v want 146", r.Profit)
	}
	if !almostEqual(r.TransportCost, 10) || !almostEqual(r.PackagingCost, 4) {
		t.Fatalf("costs: transport=%v packaging=%v", r.TransportCost, r.PackagingCost)
	}
	if !almostEqual(r.Money, 246) {
		t.Fatalf("money: got %v want 246", r.Money)
	}
	if !almostEqual(r.TotalValue, r.Money+r.StockValue) {
		t.Fatalf("total value mismatch: %v", r)
	}
}

func TestComputeRoundDeterministic(t *testing.T) {
	snap := singleTeamSnapshot()
	first := computeRound(snap, vanillaBundle(), testLog)
	second := computeRound(snap, vanillaBundle(), testLog)
	if len(first) != len(second) {
		t.Fatalf("result counts differ")
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("result %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestDemandFloorsAtZero(t *testing.T) {
	snap := singleTeamSnapshot()
	snap.Prices["Alpha"] = priceSheet{
		Team:  "Alpha",
		Lines: []PriceLine{{Cake: "Vanilla", Channel: "Retail", PriceUSD: 60}},
	}
	ref := refdata.NewBundle(map[refdata.DemandKey]refdata.DemandParams{
		{Cake: "Vanilla", Channel: "Retail"}: {Alpha: 100, Beta: 2, Gamma: 0},
	}, nil, nil)

	r := computeRound(snap, ref, testLog)[0]
	// demand = floor(100 - 120) clamped at 0 -> nothing sells.
	if !almostEqual(r.Profit, 0) || !almostEqual(r.TransportCost, 0) {
		t.Fatalf("expected zero sales, got %+v", r)
	}
	if !almostEqual(r.Money, 100) {
		t.Fatalf("money should be unchanged, got %v", r.Money)
	}
}

func TestSalesCappedByPlannedQuantity(t *testing.T) {
	snap := singleTeamSnapshot()
	snap.Plans["Alpha"] = planSubmission{
		Team:  "Alpha",
		Lines: []PlanLine{{Cake: "Vanilla", Channel: "Retail", Qty: 50}},
	}
	ref := refdata.NewBundle(map[refdata.DemandKey]refdata.DemandParams{
		{Cake: "Vanilla", Channel: "Retail"}: {Alpha: 38, Beta: 1, Gamma: 0},
	}, nil, nil)

	r := computeRound(snap, ref, testLog)[0]
	// demand = floor(38 - 8) = 30 < planned 50 -> sold 30, revenue 240.
	wantProfit := 30*8.0 - 30*0.50 - 30*0.20
	if !almostEqual(r.Profit, wantProfit) {
		t.Fatalf("profit: got %v want %v", r.Profit, wantProfit)
	}
}

func TestFractionalQuantityNeverSells(t *testing.T) {
	snap := singleTeamSnapshot()
	snap.Plans["Alpha"] = planSubmission{
		Team:  "Alpha",
		Lines: []PlanLine{{Cake: "Vanilla", Channel: "Retail", Qty: 19.9}},
	}
	r := computeRound(snap, vanillaBundle(), testLog)[0]
	// floor(19.9) = 19 units sold at $8 minus $0.70 per-unit costs.
	wantProfit := 19 * (8.0 - 0.50 - 0.20)
	if !almostEqual(r.Profit, wantProfit) {
		t.Fatalf("profit: got %v want %v", r.Profit, wantProfit)
	}
}

func TestStockNeverGoesNegative(t *testing.T) {
	snap := singleTeamSnapshot()
	snap.Teams[0].StockValue = 5
	snap.Recipes = map[string]map[string]float64{
		"vanilla": {"flour": 1},
	}
	ref := refdata.NewBundle(map[refdata.DemandKey]refdata.DemandParams{
		{Cake: "Vanilla", Channel: "Retail"}: {Alpha: 50, Beta: 1, Gamma: 0},
	}, map[string]float64{"flour": 1.0}, nil)

	r := computeRound(snap, ref, testLog)[0]
	// 20 units * 1 flour * $1 = $20 resource cost against $5 stock.
	if !almostEqual(r.ResourceCost, 20) {
		t.Fatalf("resource cost: got %v want 20", r.ResourceCost)
	}
	if r.StockValue != 0 {
		t.Fatalf("stock should clamp at 0, got %v", r.StockValue)
	}
}

func TestCarryForwardNeutrality(t *testing.T) {
	snap := &roundSnapshot{
		Round:     4,
		Teams:     []TeamState{{Name: "Idle", Money: 321.5, StockValue: 78.5, LastFinalizedRound: 3}},
		Plans:     map[string]planSubmission{},
		Prices:    map[string]priceSheet{},
		Transport: map[string]float64{},
		Packaging: map[string]float64{},
		Recipes:   map[string]map[string]float64{},
	}
	r := computeRound(snap, vanillaBundle(), testLog)[0]
	if r.Settled {
		t.Fatalf("idle team must not be settled")
	}
	if !almostEqual(r.Money, 321.5) || !almostEqual(r.StockValue, 78.5) {
		t.Fatalf("carry-forward changed balances: %+v", r)
	}
	if !almostEqual(r.TotalValue, 400) {
		t.Fatalf("total value: got %v want 400", r.TotalValue)
	}
}

func TestMarketAverageExcludesNonProducers(t *testing.T) {
	// A lists cake X at an absurd price but produces only Y this round;
	// B produces and prices X at $10. The X aggregate must be exactly 10.
	prices := map[string]priceSheet{
		"A": {Team: "A", Lines: []PriceLine{
			{Cake: "X", Channel: "Retail", PriceUSD: 9999},
			{Cake: "Y", Channel: "Retail", PriceUSD: 5},
		}},
		"B": {Team: "B", Lines: []PriceLine{{Cake: "X", Channel: "Retail", PriceUSD: 10}}},
	}
	producing := map[string]map[string]bool{
		"A": {"Y": true},
		"B": {"X": true},
	}
	avg := marketAverages(prices, producing)
	if got := avg[marketKey{Channel: "Retail", Cake: "X"}]; !almostEqual(got, 10) {
		t.Fatalf("avg X: got %v want 10", got)
	}
	if got := avg[marketKey{Channel: "Retail", Cake: "Y"}]; !almostEqual(got, 5) {
		t.Fatalf("avg Y: got %v want 5", got)
	}
}

func TestMarketAverageMeansAcrossProducers(t *testing.T) {
	prices := map[string]priceSheet{
		"A": {Team: "A", Lines: []PriceLine{{Cake: "X", Channel: "Retail", PriceUSD: 8}}},
		"B": {Team: "B", Lines: []PriceLine{{Cake: "X", Channel: "Retail", PriceUSD: 12}}},
	}
	producing := map[string]map[string]bool{
		"A": {"X": true},
		"B": {"X": true},
	}
	avg := marketAverages(prices, producing)
	if got := avg[marketKey{Channel: "Retail", Cake: "X"}]; !almostEqual(got, 10) {
		t.Fatalf("avg: got %v want 10", got)
	}
}

func TestMissingOwnPriceFallsBackToMarket(t *testing.T) {
	snap := singleTeamSnapshot()
	snap.Teams = append(snap.Teams, TeamState{Name: "Beta", Money: 0, StockValue: 0, LastFinalizedRound: 2})
	snap.Plans["Beta"] = planSubmission{
		Team:  "Beta",
		Lines: []PlanLine{{Cake: "Vanilla", Channel: "Retail", Qty: 10}},
	}
	// Beta never priced Vanilla: it sells at Alpha's $8 market average.
	snap.Prices["Beta"] = priceSheet{Team: "Beta"}

	results := computeRound(snap, vanillaBundle(), testLog)
	beta := results[1]
	wantProfit := 10 * (8.0 - 0.50 - 0.20)
	if !almostEqual(beta.Profit, wantProfit) {
		t.Fatalf("beta profit: got %v want %v", beta.Profit, wantProfit)
	}
}

func TestMissingPriceAndMarketSellsAtZero(t *testing.T) {
	snap := singleTeamSnapshot()
	snap.Prices["Alpha"] = priceSheet{Team: "Alpha"}
	r := computeRound(snap, vanillaBundle(), testLog)[0]
	// price 0 -> demand floor(50) = 50, sold 20 at $0, costs still accrue.
	wantProfit := -(20 * 0.50) - (20 * 0.20)
	if !almostEqual(r.Profit, wantProfit) {
		t.Fatalf("profit: got %v want %v", r.Profit, wantProfit)
	}
}

func TestMissingDemandParamsSkipsLine(t *testing.T) {
	snap := singleTeamSnapshot()
	ref := refdata.NewBundle(nil, nil, nil)
	r := computeRound(snap, ref, testLog)[0]
	if !almostEqual(r.Profit, 0) || !almostEqual(r.TransportCost, 0) || !almostEqual(r.PackagingCost, 0) {
		t.Fatalf("line without demand params must not trade: %+v", r)
	}
}

func TestRequiredIngredients(t *testing.T) {
	lines := []PlanLine{
		{Cake: "Vanilla", Channel: "Retail", Qty: 10},
		{Cake: "Vanilla", Channel: "Wholesale", Qty: 5},
		{Cake: "Mystery", Channel: "Retail", Qty: 100},
	}
	recipes := map[string]map[string]float64{
		"vanilla": {"flour": 0.3, "sugar": 0.2},
	}
	needs := requiredIngredients(lines, recipes)
	if !almostEqual(needs["flour"], 4.5) {
		t.Fatalf("flour: got %v want 4.5", needs["flour"])
	}
	if !almostEqual(needs["sugar"], 3.0) {
		t.Fatalf("sugar: got %v want 3.0", needs["sugar"])
	}
	// Mystery has no recipe: silently contributes nothing.
	if len(needs) != 2 {
		t.Fatalf("unexpected needs: %v", needs)
	}
}

func TestResourceCostIncludesWages(t *testing.T) {
	snap := singleTeamSnapshot()
	snap.Recipes = map[string]map[string]float64{"vanilla": {"flour": 0.5}}
	plan := snap.Plans["Alpha"]
	plan.Required = map[string]float64{"prep": 2, "oven": 1, "unknown-rig": 99}
	snap.Plans["Alpha"] = plan

	r := computeRound(snap, vanillaBundle(), testLog)[0]
	// ingredients: 20*0.5*0.40 = 4; wages: 2*12 + 1*15 = 39; unknown free.
	if !almostEqual(r.ResourceCost, 43) {
		t.Fatalf("resource cost: got %v want 43", r.ResourceCost)
	}
}

func TestCompetitiveGapMovesDemand(t *testing.T) {
	// Two producers at different prices: the cheaper one gains demand
	// through the gamma term, the pricier one loses it.
	snap := &roundSnapshot{
		Round: 2,
		Teams: []TeamState{
			{Name: "Cheap", LastFinalizedRound: 1},
			{Name: "Pricey", LastFinalizedRound: 1},
		},
		Plans: map[string]planSubmission{
			"Cheap":  {Team: "Cheap", Lines: []PlanLine{{Cake: "X", Channel: "Retail", Qty: 1000}}},
			"Pricey": {Team: "Pricey", Lines: []PlanLine{{Cake: "X", Channel: "Retail", Qty: 1000}}},
		},
		Prices: map[string]priceSheet{
			"Cheap":  {Team: "Cheap", Lines: []PriceLine{{Cake: "X", Channel: "Retail", PriceUSD: 6}}},
			"Pricey": {Team: "Pricey", Lines: []PriceLine{{Cake: "X", Channel: "Retail", PriceUSD: 14}}},
		},
		Transport: map[string]float64{},
		Packaging: map[string]float64{},
		Recipes:   map[string]map[string]float64{},
	}
	ref := refdata.NewBundle(map[refdata.DemandKey]refdata.DemandParams{
		{Cake: "X", Channel: "Retail"}: {Alpha: 100, Beta: 1, Gamma: 2},
	}, nil, nil)

	results := computeRound(snap, ref, testLog)
	// avg = 10; cheap: floor(100 - 6 + 2*(10-6)) = 102; pricey: floor(100 - 14 + 2*(10-14)) = 78.
	if !almostEqual(results[0].Profit, 102*6.0) {
		t.Fatalf("cheap profit: got %v want %v", results[0].Profit, 102*6.0)
	}
	if !almostEqual(results[1].Profit, 78*14.0) {
		t.Fatalf("pricey profit: got %v want %v", results[1].Profit, 78*14.0)
	}
}

func TestAllFinalized(t *testing.T) {
	teams := []TeamState{
		{Name: "A", LastFinalizedRound: 3},
		{Name: "B", LastFinalizedRound: 3},
	}
	if !allFinalized(teams, 3) {
		t.Fatalf("expected all-finalized for round 3")
	}
	if allFinalized(teams, 4) {
		t.Fatalf("round 4 is not finalized yet")
	}
	if allFinalized(nil, 3) {
		t.Fatalf("empty team list must not short-circuit the run")
	}
	teams[1].LastFinalizedRound = 2
	if allFinalized(teams, 3) {
		t.Fatalf("straggler must defeat the guard")
	}
}

func TestChooseBackfillCopiesLatestEarlierSheet(t *testing.T) {
	// Priced in round 2, nothing in rounds 3 and 4: the round-4 record must
	// carry round 2's lines verbatim with copied_from_round=2.
	sheet2 := `[{"cake":"Vanilla","channel":"Retail","price_usd":8}]`
	prior := []priorSheet{
		{Round: 1, Raw: `[{"cake":"Vanilla","channel":"Retail","price_usd":9}]`},
		{Round: 2, Raw: sheet2},
	}
	rec := chooseBackfill(prior, 4)
	if rec.PricesJSON != sheet2 {
		t.Fatalf("lines: got %s want %s", rec.PricesJSON, sheet2)
	}
	if rec.CopiedFromRound == nil || *rec.CopiedFromRound != 2 {
		t.Fatalf("copied_from_round: got %v want 2", rec.CopiedFromRound)
	}
}

func TestChooseBackfillEmptyWhenNeverPriced(t *testing.T) {
	rec := chooseBackfill(nil, 3)
	if rec.PricesJSON != "[]" {
		t.Fatalf("expected empty sheet, got %s", rec.PricesJSON)
	}
	if rec.CopiedFromRound != nil {
		t.Fatalf("expected no provenance, got %v", *rec.CopiedFromRound)
	}
}

func TestChooseBackfillIgnoresLaterRounds(t *testing.T) {
	prior := []priorSheet{
		{Round: 5, Raw: `[{"cake":"X","channel":"Retail","price_usd":3}]`},
	}
	rec := chooseBackfill(prior, 3)
	if rec.PricesJSON != "[]" || rec.CopiedFromRound != nil {
		t.Fatalf("sheet from a later round must not backfill an earlier one: %+v", rec)
	}
}

func TestOwnPriceFirstMatchWins(t *testing.T) {
	lines := []PriceLine{
		{Cake: "X", Channel: "Retail", PriceUSD: 7},
		{Cake: "X", Channel: "Retail", PriceUSD: 9},
	}
	p, ok := ownPrice(lines, "X", "Retail")
	if !ok || p != 7 {
		t.Fatalf("got %v ok=%v, want first match 7", p, ok)
	}
	if _, ok := ownPrice(lines, "X", "Wholesale"); ok {
		t.Fatalf("expected miss for unknown channel")
	}
}
