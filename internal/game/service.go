package game

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"bakesim/internal/refdata"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

type Service struct {
	db  *pgxpool.Pool
	ref *refdata.Bundle
	log *slog.Logger
}

func NewService(db *pgxpool.Pool, ref *refdata.Bundle, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, ref: ref, log: logger}
}

// --- game_state key/value store ---

func (s *Service) stateValue(ctx context.Context, key, fallback string) (string, error) {
	var value string
	err := s.db.QueryRow(ctx, `
		SELECT value
		FROM game.game_state
		WHERE key = $1
	`, key).Scan(&value)
	if err == nil {
		return value, nil
	}
	if err != pgx.ErrNoRows {
		return "", err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO game.game_state (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO NOTHING
	`, key, fallback)
	if err != nil {
		return "", err
	}
	return fallback, nil
}

func (s *Service) setStateValue(ctx context.Context, key, value string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO game.game_state (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = $2
	`, key, value)
	return err
}

func (s *Service) CurrentRound(ctx context.Context) (int, error) {
	raw, err := s.stateValue(ctx, StateKeyCurrentRound, "1")
	if err != nil {
		return 0, err
	}
	round, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("bad current_round value %q: %w", raw, err)
	}
	return round, nil
}

func (s *Service) SetCurrentRound(ctx context.Context, round int) error {
	if round < 1 {
		return ErrInvalidRound
	}
	return s.setStateValue(ctx, StateKeyCurrentRound, strconv.Itoa(round))
}

func (s *Service) Locked(ctx context.Context) (bool, error) {
	raw, err := s.stateValue(ctx, StateKeyLocked, "false")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(raw) == "true", nil
}

func (s *Service) SetLocked(ctx context.Context, locked bool) error {
	return s.setStateValue(ctx, StateKeyLocked, strconv.FormatBool(locked))
}

func (s *Service) State(ctx context.Context) (GameState, error) {
	round, err := s.CurrentRound(ctx)
	if err != nil {
		return GameState{}, err
	}
	locked, err := s.Locked(ctx)
	if err != nil {
		return GameState{}, err
	}
	return GameState{CurrentRound: round, Locked: locked}, nil
}

// AdvanceRound finalizes the current round, bumps current_round, and stamps
// the new round number on every team row so the team pages follow along.
func (s *Service) AdvanceRound(ctx context.Context) (int, error) {
	current, err := s.CurrentRound(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.FinalizeRound(ctx, current); err != nil {
		return 0, err
	}
	next := current + 1
	if err := s.SetCurrentRound(ctx, next); err != nil {
		return 0, fmt.Errorf("advance to round %d: %w", next, err)
	}
	if _, err := s.db.Exec(ctx, `
		UPDATE game.teams
		SET round_number = $1
	`, next); err != nil {
		return 0, fmt.Errorf("stamp teams with round %d: %w", next, err)
	}
	s.log.Info("round advanced", "from", current, "to", next)
	return next, nil
}

// ReopenRound steps current_round back by one so submissions for the
// previous round can be re-enabled. Results already written stay written.
func (s *Service) ReopenRound(ctx context.Context) (int, error) {
	current, err := s.CurrentRound(ctx)
	if err != nil {
		return 0, err
	}
	if current <= 1 {
		return 0, ErrInvalidRound
	}
	prev := current - 1
	if err := s.SetCurrentRound(ctx, prev); err != nil {
		return 0, err
	}
	s.log.Info("round reopened", "round", prev)
	return prev, nil
}

// --- teams and sessions ---

func (s *Service) CreateTeam(ctx context.Context, in CreateTeamInput) error {
	in.Name = strings.TrimSpace(in.Name)
	if err := ValidateTeamName(in.Name); err != nil {
		return err
	}
	if len(in.Password) < 4 {
		return fmt.Errorf("password must be at least 4 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	money := in.Money
	stock := in.StockValue
	if money == 0 {
		money = DefaultStartingMoneyUSD
	}
	if stock == 0 {
		stock = DefaultStartingStockUSD
	}
	cmd, err := s.db.Exec(ctx, `
		INSERT INTO game.teams
		    (team_name, password_hash, money, stock_value, total_value, round_number, last_finalized_round)
		VALUES ($1, $2, $3, $4, $3 + $4, 1, 0)
		ON CONFLICT (team_name) DO NOTHING
	`, in.Name, string(hash), money, stock)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrTeamExists
	}
	return nil
}

func (s *Service) Authenticate(ctx context.Context, teamName, password string) (string, error) {
	teamName = strings.TrimSpace(teamName)
	var hash string
	err := s.db.QueryRow(ctx, `
		SELECT password_hash
		FROM game.teams
		WHERE team_name = $1
	`, teamName).Scan(&hash)
	if err == pgx.ErrNoRows {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return "", ErrInvalidCredentials
	}
	token := uuid.NewString()
	if _, err := s.db.Exec(ctx, `
		INSERT INTO game.sessions (token, team_name, created_at)
		VALUES ($1, $2, now())
	`, token, teamName); err != nil {
		return "", err
	}
	return token, nil
}

func (s *Service) TeamFromToken(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidSession
	}
	var teamName string
	err := s.db.QueryRow(ctx, `
		SELECT team_name
		FROM game.sessions
		WHERE token = $1
	`, token).Scan(&teamName)
	if err == pgx.ErrNoRows {
		return "", ErrInvalidSession
	}
	if err != nil {
		return "", err
	}
	return teamName, nil
}

// --- submissions ---

func (s *Service) SubmitPlan(ctx context.Context, in SubmitPlanInput) error {
	if err := validatePlanLines(in.Lines); err != nil {
		return err
	}
	locked, err := s.Locked(ctx)
	if err != nil {
		return err
	}
	if locked {
		return ErrSubmissionsLocked
	}
	round, err := s.CurrentRound(ctx)
	if err != nil {
		return err
	}
	planJSON, err := json.Marshal(in.Lines)
	if err != nil {
		return err
	}
	if in.Required == nil {
		in.Required = map[string]float64{}
	}
	requiredJSON, err := json.Marshal(in.Required)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO game.production_plans (team_name, round_number, plan_json, required_json, profit_usd)
		VALUES ($1, $2, $3, $4, 0)
		ON CONFLICT (team_name, round_number)
		DO UPDATE SET plan_json = $3, required_json = $4
	`, in.Team, round, string(planJSON), string(requiredJSON))
	if err != nil {
		return err
	}
	s.log.Info("plan submitted", "team", in.Team, "round", round, "lines", len(in.Lines))
	return nil
}

func (s *Service) SubmitPrices(ctx context.Context, in SubmitPricesInput) error {
	if err := validatePriceLines(in.Lines); err != nil {
		return err
	}
	locked, err := s.Locked(ctx)
	if err != nil {
		return err
	}
	if locked {
		return ErrSubmissionsLocked
	}
	round, err := s.CurrentRound(ctx)
	if err != nil {
		return err
	}
	if in.Lines == nil {
		in.Lines = []PriceLine{}
	}
	pricesJSON, err := json.Marshal(in.Lines)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO game.prices (team_name, round_number, prices_json, finalized, auto_filled, copied_from_round)
		VALUES ($1, $2, $3, false, false, NULL)
		ON CONFLICT (team_name, round_number)
		DO UPDATE SET prices_json = $3, finalized = false, auto_filled = false, copied_from_round = NULL
	`, in.Team, round, string(pricesJSON))
	if err != nil {
		return err
	}
	s.log.Info("prices submitted", "team", in.Team, "round", round, "lines", len(in.Lines))
	return nil
}

// --- views ---

func (s *Service) Dashboard(ctx context.Context, teamName string) (Dashboard, error) {
	var out Dashboard
	out.Team = teamName

	state, err := s.State(ctx)
	if err != nil {
		return out, err
	}
	out.CurrentRound = state.CurrentRound
	out.Locked = state.Locked

	err = s.db.QueryRow(ctx, `
		SELECT money, stock_value, total_value,
		       last_profit, last_transport_cost, last_resource_cost, last_packaging_cost,
		       last_finalized_round
		FROM game.teams
		WHERE team_name = $1
	`, teamName).Scan(
		&out.Money, &out.StockValue, &out.TotalValue,
		&out.LastProfit, &out.LastTransportCost, &out.LastResourceCost, &out.LastPackagingCost,
		&out.LastFinalized,
	)
	if err == pgx.ErrNoRows {
		return out, ErrTeamNotFound
	}
	if err != nil {
		return out, err
	}

	var planJSON []byte
	err = s.db.QueryRow(ctx, `
		SELECT plan_json
		FROM game.production_plans
		WHERE team_name = $1 AND round_number = $2
	`, teamName, state.CurrentRound).Scan(&planJSON)
	if err != nil && err != pgx.ErrNoRows {
		return out, err
	}
	if len(planJSON) > 0 {
		if err := json.Unmarshal(planJSON, &out.Plan); err != nil {
			return out, fmt.Errorf("decode plan for %s: %w", teamName, err)
		}
	}

	var pricesJSON []byte
	err = s.db.QueryRow(ctx, `
		SELECT prices_json
		FROM game.prices
		WHERE team_name = $1 AND round_number = $2
	`, teamName, state.CurrentRound).Scan(&pricesJSON)
	if err != nil && err != pgx.ErrNoRows {
		return out, err
	}
	if len(pricesJSON) > 0 {
		if err := json.Unmarshal(pricesJSON, &out.Prices); err != nil {
			return out, fmt.Errorf("decode prices for %s: %w", teamName, err)
		}
	}
	return out, nil
}

func (s *Service) Leaderboard(ctx context.Context, limit int) ([]LeaderboardRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT team_name, money, stock_value, total_value, last_profit
		FROM game.teams
		ORDER BY total_value DESC, team_name
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LeaderboardRow
	rank := 1
	for rows.Next() {
		var r LeaderboardRow
		if err := rows.Scan(&r.Team, &r.Money, &r.StockValue, &r.TotalValue, &r.LastProfit); err != nil {
			return nil, err
		}
		r.Rank = rank
		rank++
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Service) RoundData(ctx context.Context, round int) (RoundData, error) {
	out := RoundData{Round: round}
	if round < 1 {
		return out, ErrInvalidRound
	}

	pRows, err := s.db.Query(ctx, `
		SELECT team_name, round_number, prices_json, finalized, auto_filled, copied_from_round
		FROM game.prices
		WHERE round_number = $1
		ORDER BY team_name
	`, round)
	if err != nil {
		return out, err
	}
	defer pRows.Close()
	for pRows.Next() {
		var v PriceRecordView
		var raw []byte
		if err := pRows.Scan(&v.Team, &v.Round, &raw, &v.Finalized, &v.AutoFilled, &v.CopiedFromRound); err != nil {
			return out, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &v.Lines); err != nil {
				return out, fmt.Errorf("decode prices for %s round %d: %w", v.Team, round, err)
			}
		}
		out.Prices = append(out.Prices, v)
	}
	if err := pRows.Err(); err != nil {
		return out, err
	}

	plRows, err := s.db.Query(ctx, `
		SELECT team_name, round_number, plan_json, required_json, profit_usd
		FROM game.production_plans
		WHERE round_number = $1
		ORDER BY team_name
	`, round)
	if err != nil {
		return out, err
	}
	defer plRows.Close()
	for plRows.Next() {
		var v PlanRecordView
		var planRaw, requiredRaw []byte
		if err := plRows.Scan(&v.Team, &v.Round, &planRaw, &requiredRaw, &v.ProfitUSD); err != nil {
			return out, err
		}
		if len(planRaw) > 0 {
			if err := json.Unmarshal(planRaw, &v.Lines); err != nil {
				return out, fmt.Errorf("decode plan for %s round %d: %w", v.Team, round, err)
			}
		}
		if len(requiredRaw) > 0 {
			if err := json.Unmarshal(requiredRaw, &v.Required); err != nil {
				return out, fmt.Errorf("decode required resources for %s round %d: %w", v.Team, round, err)
			}
		}
		out.Plans = append(out.Plans, v)
	}
	return out, plRows.Err()
}

// ResetRound deletes all submissions for a round. Team balances are not
// rolled back; the admin re-runs finalize after teams resubmit.
func (s *Service) ResetRound(ctx context.Context, round int) error {
	if round < 1 {
		return ErrInvalidRound
	}
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM game.prices WHERE round_number = $1`, round); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM game.production_plans WHERE round_number = $1`, round); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.log.Info("round reset", "round", round)
	return nil
}

// --- scenario seeding ---

type scenarioCake struct {
	Name                    string  `yaml:"name"`
	PackagingCostPerUnitUSD float64 `yaml:"packaging_cost_per_unit_usd"`
}

type scenarioChannel struct {
	Channel                 string  `yaml:"channel"`
	TransportCostPerUnitUSD float64 `yaml:"transport_cost_per_unit_usd"`
}

type scenarioRecipe struct {
	Cake        string             `yaml:"cake"`
	Ingredients map[string]float64 `yaml:"ingredients"`
}

type scenarioTeam struct {
	Name       string  `yaml:"name"`
	Password   string  `yaml:"password"`
	Money      float64 `yaml:"money"`
	StockValue float64 `yaml:"stock_value"`
}

type scenario struct {
	Cakes    []scenarioCake    `yaml:"cakes"`
	Channels []scenarioChannel `yaml:"channels"`
	Recipes  []scenarioRecipe  `yaml:"recipes"`
	Teams    []scenarioTeam    `yaml:"teams"`
}

// SeedScenario loads a YAML scenario file and upserts cakes, channels,
// recipes, and teams. Unless force is set, a database that already has cakes
// is left untouched.
func (s *Service) SeedScenario(ctx context.Context, path string, force bool) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read scenario: %w", err)
	}
	var sc scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return fmt.Errorf("parse scenario: %w", err)
	}

	if !force {
		var count int
		if err := s.db.QueryRow(ctx, `SELECT COUNT(1) FROM game.cakes`).Scan(&count); err != nil {
			return err
		}
		if count > 0 {
			s.log.Info("scenario seed skipped, cakes already present", "count", count)
			return nil
		}
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, c := range sc.Cakes {
		if _, err := tx.Exec(ctx, `
			INSERT INTO game.cakes (name, packaging_cost_per_unit_usd)
			VALUES ($1, $2)
			ON CONFLICT (name) DO UPDATE SET packaging_cost_per_unit_usd = $2
		`, c.Name, c.PackagingCostPerUnitUSD); err != nil {
			return fmt.Errorf("seed cake %s: %w", c.Name, err)
		}
	}
	for _, ch := range sc.Channels {
		if _, err := tx.Exec(ctx, `
			INSERT INTO game.channels (channel, transport_cost_per_unit_usd)
			VALUES ($1, $2)
			ON CONFLICT (channel) DO UPDATE SET transport_cost_per_unit_usd = $2
		`, ch.Channel, ch.TransportCostPerUnitUSD); err != nil {
			return fmt.Errorf("seed channel %s: %w", ch.Channel, err)
		}
	}
	for _, r := range sc.Recipes {
		for ingredient, qty := range r.Ingredients {
			if _, err := tx.Exec(ctx, `
				INSERT INTO game.recipes (cake_name, ingredient, qty_per_unit)
				VALUES ($1, $2, $3)
				ON CONFLICT (cake_name, ingredient) DO UPDATE SET qty_per_unit = $3
			`, r.Cake, ingredient, qty); err != nil {
				return fmt.Errorf("seed recipe %s/%s: %w", r.Cake, ingredient, err)
			}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	for _, t := range sc.Teams {
		err := s.CreateTeam(ctx, CreateTeamInput{
			Name:       t.Name,
			Password:   t.Password,
			Money:      t.Money,
			StockValue: t.StockValue,
		})
		if err != nil && err != ErrTeamExists {
			return fmt.Errorf("seed team %s: %w", t.Name, err)
		}
	}

	s.log.Info("scenario seeded",
		"cakes", len(sc.Cakes), "channels", len(sc.Channels),
		"recipes", len(sc.Recipes), "teams", len(sc.Teams))
	return nil
}
