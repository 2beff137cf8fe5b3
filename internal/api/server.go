package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"stockify/internal/game"
	"stockify/internal/insight"
	"stockify/internal/telemetry"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
)

type contextKey string

const accountContextKey contextKey = "account"

// AccountHeader carries the caller's account id. It is set by the gateway that
// authenticates users in front of this service.
const AccountHeader = "X-Account-ID"

// IdempotencyHeader lets a client retry a trade without applying it twice.
const IdempotencyHeader = "Idempotency-Key"

type Options struct {
	AdminToken string
	Now        func() time.Time
}

type Server struct {
	opts    Options
	log     *slog.Logger
	game    *game.Service
	analyst *insight.Analyst
	mux     *chi.Mux
}

func New(opts Options, logger *slog.Logger, gameSvc *game.Service, analyst *insight.Analyst) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	s := &Server{
		opts:    opts,
		log:     logger,
		game:    gameSvc,
		analyst: analyst,
		mux:     chi.NewRouter(),
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
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/entities", s.handleEntities)
		r.Get("/entities/{id}", s.handleEntity)
		r.Get("/entities/{id}/insight", s.handleInsight)
		r.Get("/market/movers", s.handleMovers)
		r.Get("/leaderboard", s.handleLeaderboard)

		r.Group(func(r chi.Router) {
			r.Use(s.accountMiddleware)
			r.Post("/session", s.handleSignIn)
			r.Delete("/session", s.handleSignOut)
			r.Get("/dashboard", s.handleDashboard)
			r.Get("/holdings", s.handleHoldings)
			r.Get("/transactions", s.handleTransactions)
			r.Post("/invest", s.handleInvest)
			r.Post("/sell", s.handleSell)
			r.Post("/entities", s.handleTrack)
			r.Get("/market/most-traded", s.handleMostTraded)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.adminMiddleware)
			r.Post("/market/advance", s.handleAdvance)
		})
	})
}

func (s *Server) accountMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accountID := strings.TrimSpace(r.Header.Get(AccountHeader))
		if accountID == "" {
			writeError(w, http.StatusUnauthorized, "missing "+AccountHeader+" header")
			return
		}
		ctx := context.WithValue(r.Context(), accountContextKey, accountID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.AdminToken == "" {
			writeError(w, http.StatusForbidden, "admin endpoints are disabled")
			return
		}
		token := bearerToken(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.AdminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func accountFromContext(ctx context.Context) (string, error) {
	id, ok := ctx.Value(accountContextKey).(string)
	if !ok || id == "" {
		return "", errors.New("missing account context")
	}
	return id, nil
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Username string `json:"username"`
	}
	if err := decodeOptionalJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.SignIn(r.Context(), accountID, in.Username)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	s.game.SignOut(r.Context(), accountID)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.game.Dashboard(r.Context(), accountID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHoldings(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.game.Holdings(r.Context(), accountID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"holdings": out})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.game.Transactions(r.Context(), accountID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if out == nil {
		out = []game.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": out})
}

type tradeRequest struct {
	EntityID string          `json:"entity_id"`
	Amount   decimal.Decimal `json:"amount"`
}

func decodeTrade(r *http.Request) (string, int64, error) {
	var in tradeRequest
	if err := decodeJSON(r, &in); err != nil {
		return "", 0, err
	}
	amount, err := game.ParseCredits(in.Amount.String())
	if err != nil {
		return "", 0, err
	}
	return in.EntityID, amount, nil
}

func (s *Server) handleInvest(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	entityID, amount, err := decodeTrade(r)
	if err != nil {
		s.writeDomainError(w, badRequest(err))
		return
	}
	out, err := s.game.Invest(r.Context(), game.InvestInput{
		AccountID:      accountID,
		EntityID:       entityID,
		AmountMicros:   amount,
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	entityID, amount, err := decodeTrade(r)
	if err != nil {
		s.writeDomainError(w, badRequest(err))
		return
	}
	out, err := s.game.Sell(r.Context(), game.SellInput{
		AccountID:      accountID,
		EntityID:       entityID,
		AmountMicros:   amount,
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEntities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"entities": s.game.Entities()})
}

func (s *Server) handleEntity(w http.ResponseWriter, r *http.Request) {
	out, err := s.game.Entity(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Track(r.Context(), in.ID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleInsight(w http.ResponseWriter, r *http.Request) {
	entity, err := s.game.Entity(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	text, err := s.analyst.Insight(r.Context(), entity)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entity_id": entity.ID, "insight": text})
}

func (s *Server) handleMovers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.game.MarketMovers())
}

func (s *Server) handleMostTraded(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.game.MostTraded(r.Context(), accountID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": out})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 25
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	out, err := s.game.Leaderboard(r.Context(), limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": out})
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	in := struct {
		Periods float64 `json:"periods"`
	}{Periods: 1}
	if err := decodeOptionalJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.Periods < 0 {
		writeError(w, http.StatusBadRequest, "periods must be >= 0")
		return
	}
	report, err := s.game.Advance(r.Context(), s.opts.Now(), in.Periods)
	if err != nil {
		s.log.Error("market advance failed", "err", err)
		s.writeDomainError(w, err)
		return
	}
	s.log.Info("market advanced", "advanced", len(report.Advanced), "skipped", len(report.Skipped), "accounts", report.Accounts)
	writeJSON(w, http.StatusOK, report)
}

var errBadRequest = errors.New("bad request")

func badRequest(err error) error {
	if game.IsValidation(err) {
		return err
	}
	return errors.Join(errBadRequest, err)
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBadRequest), game.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, game.ErrAccountNotFound), errors.Is(err, game.ErrEntityNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, game.ErrMetricUnavailable), errors.Is(err, game.ErrDuplicateIdempotency):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, game.ErrFetchFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, insight.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
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

// decodeOptionalJSON accepts an empty body and leaves out untouched.
func decodeOptionalJSON(r *http.Request, out any) error {
	if err := decodeJSON(r, out); err != nil && !errors.Is(err, io.EOF) {
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
