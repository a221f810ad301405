package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bakesim/internal/config"
	"bakesim/internal/game"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const teamContextKey contextKey = "team"

type Server struct {
	cfg  config.APIConfig
	log  *slog.Logger
	game *game.Service
	mux  *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, gameSvc *game.Service) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:  cfg,
		log:  logger,
		game: gameSvc,
		mux:  chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.teamMiddleware)
			r.Get("/dashboard", s.handleDashboard)
			r.Get("/leaderboard", s.handleLeaderboard)
			r.Post("/plans", s.handleSubmitPlan)
			r.Post("/prices", s.handleSubmitPrices)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.adminMiddleware)
			r.Get("/state", s.handleAdminState)
			r.Post("/lock", s.handleLock)
			r.Post("/unlock", s.handleUnlock)
			r.Post("/rounds/advance", s.handleAdvanceRound)
			r.Post("/rounds/reopen", s.handleReopenRound)
			r.Post("/rounds/{round}/finalize", s.handleFinalizeRound)
			r.Get("/rounds/{round}", s.handleRoundData)
			r.Delete("/rounds/{round}", s.handleResetRound)
			r.Post("/teams", s.handleCreateTeam)
			r.Post("/seed", s.handleSeed)
		})
	})
}

func (s *Server) teamMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		team, err := s.game.TeamFromToken(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), teamContextKey, team)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.AdminUser)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.AdminPass)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
			writeError(w, http.StatusUnauthorized, "admin credentials required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func teamFromContext(ctx context.Context) (string, error) {
	team, ok := ctx.Value(teamContextKey).(string)
	if !ok || team == "" {
		return "", errors.New("missing auth context")
	}
	return team, nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Team     string `json:"team"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	token, err := s.game.Authenticate(r.Context(), strings.TrimSpace(in.Team), in.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"team":  strings.TrimSpace(in.Team),
	})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	team, err := teamFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.game.Dashboard(r.Context(), team)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = v
	}
	rows, err := s.game.Leaderboard(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (s *Server) handleSubmitPlan(w http.ResponseWriter, r *http.Request) {
	team, err := teamFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Lines    []game.PlanLine    `json:"lines"`
		Required map[string]float64 `json:"required"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.game.SubmitPlan(r.Context(), game.SubmitPlanInput{
		Team:     team,
		Lines:    in.Lines,
		Required: in.Required,
	}); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSubmitPrices(w http.ResponseWriter, r *http.Request) {
	team, err := teamFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Lines []game.PriceLine `json:"lines"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.game.SubmitPrices(r.Context(), game.SubmitPricesInput{
		Team:  team,
		Lines: in.Lines,
	}); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleAdminState(w http.ResponseWriter, r *http.Request) {
	out, err := s.game.State(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	if err := s.game.SetLocked(r.Context(), true); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"locked": true})
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	if err := s.game.SetLocked(r.Context(), false); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"locked": false})
}

func (s *Server) handleAdvanceRound(w http.ResponseWriter, r *http.Request) {
	next, err := s.game.AdvanceRound(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"current_round": next})
}

func (s *Server) handleReopenRound(w http.ResponseWriter, r *http.Request) {
	current, err := s.game.ReopenRound(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"current_round": current})
}

func (s *Server) handleFinalizeRound(w http.ResponseWriter, r *http.Request) {
	round, err := roundParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.game.FinalizeRound(r.Context(), round); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"round": round, "finalized": true})
}

func (s *Server) handleRoundData(w http.ResponseWriter, r *http.Request) {
	round, err := roundParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.RoundData(r.Context(), round)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleResetRound(w http.ResponseWriter, r *http.Request) {
	round, err := roundParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.game.ResetRound(r.Context(), round); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"round": round, "reset": true})
}

func (s *Server) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name       string  `json:"name"`
		Password   string  `json:"password"`
		Money      float64 `json:"money"`
		StockValue float64 `json:"stock_value"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.game.CreateTeam(r.Context(), game.CreateTeamInput{
		Name:       in.Name,
		Password:   in.Password,
		Money:      in.Money,
		StockValue: in.StockValue,
	}); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true})
}

func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Path  string `json:"path"`
		Force bool   `json:"force"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	path := strings.TrimSpace(in.Path)
	if path == "" {
		path = s.cfg.SeedFile
	}
	if path == "" {
		writeError(w, http.StatusBadRequest, "no seed file configured")
		return
	}
	if err := s.game.SeedScenario(r.Context(), path, in.Force); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func roundParam(r *http.Request) (int, error) {
	round, err := strconv.Atoi(chi.URLParam(r, "round"))
	if err != nil || round < 1 {
		return 0, errors.New("invalid round")
	}
	return round, nil
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, game.ErrInvalidCredentials), errors.Is(err, game.ErrInvalidSession):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, game.ErrSubmissionsLocked), errors.Is(err, game.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, game.ErrTeamNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, game.ErrTeamExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, game.ErrInvalidRound):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
