package game

// PlanLine is one entry of a team's production plan for a round.
type PlanLine struct {
	Cake    string  `json:"cake"`
	Channel string  `json:"channel"`
	Qty     float64 `json:"qty"`
}

// PriceLine is one entry of a team's submitted price sheet.
type PriceLine struct {
	Cake     string  `json:"cake"`
	Channel  string  `json:"channel"`
	PriceUSD float64 `json:"price_usd"`
}

// TeamState is the balance snapshot the finalizer reads and rewrites.
type TeamState struct {
	Name               string
	Money              float64
	StockValue         float64
	LastFinalizedRound int
}

// TeamResult is the outcome of settling (or carrying forward) one team for
// one round. Settled teams get the full cost breakdown; carried-forward
// teams only have their total recomputed.
type TeamResult struct {
	Team          string
	Settled       bool
	Profit        float64
	TransportCost float64
	PackagingCost float64
	ResourceCost  float64
	Money         float64
	StockValue    float64
	TotalValue    float64
}

type Dashboard struct {
	Team              string      `json:"team"`
	CurrentRound      int         `json:"current_round"`
	Locked            bool        `json:"locked"`
	Money             float64     `json:"money"`
	StockValue        float64     `json:"stock_value"`
	TotalValue        float64     `json:"total_value"`
	LastProfit        float64     `json:"last_profit"`
	LastTransportCost float64     `json:"last_transport_cost"`
	LastResourceCost  float64     `json:"last_resource_cost"`
	LastPackagingCost float64     `json:"last_packaging_cost"`
	LastFinalized     int         `json:"last_finalized_round"`
	Plan              []PlanLine  `json:"plan,omitempty"`
	Prices            []PriceLine `json:"prices,omitempty"`
}

type LeaderboardRow struct {
	Rank       int     `json:"rank"`
	Team       string  `json:"team"`
	Money      float64 `json:"money"`
	StockValue float64 `json:"stock_value"`
	TotalValue float64 `json:"total_value"`
	LastProfit float64 `json:"last_profit"`
}

type GameState struct {
	CurrentRound int  `json:"current_round"`
	Locked       bool `json:"locked"`
}

type SubmitPlanInput struct {
	Team     string
	Lines    []PlanLine
	Required map[string]float64
}

type SubmitPricesInput struct {
	Team  string
	Lines []PriceLine
}

type CreateTeamInput struct {
	Name       string
	Password   string
	Money      float64
	StockValue float64
}

// PriceRecordView is an admin-facing row of the prices table, including
// backfill provenance.
type PriceRecordView struct {
	Team            string      `json:"team"`
	Round           int         `json:"round"`
	Lines           []PriceLine `json:"lines"`
	Finalized       bool        `json:"finalized"`
	AutoFilled      bool        `json:"auto_filled"`
	CopiedFromRound *int        `json:"copied_from_round,omitempty"`
}

type PlanRecordView struct {
	Team      string             `json:"team"`
	Round     int                `json:"round"`
	Lines     []PlanLine         `json:"lines"`
	Required  map[string]float64 `json:"required"`
	ProfitUSD float64            `json:"profit_usd"`
}

type RoundData struct {
	Round  int               `json:"round"`
	Prices []PriceRecordView `json:"prices"`
	Plans  []PlanRecordView  `json:"plans"`
}
