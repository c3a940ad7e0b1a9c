package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aethos/gateway/middleware"
	"aethos/native/units"
	"aethos/services/lending/actions"
	"aethos/services/lending/store"
)

const maxBodyBytes = 16 << 10

// Views exposes the published position views.
type Views interface {
	Current() *store.View
	Subscribe() (<-chan *store.View, func())
}

// AccountSelector switches the reconciled account and requests refreshes.
type AccountSelector interface {
	SetAccount(account common.Address)
	Refresh()
}

// Actions starts state-changing actions.
type Actions interface {
	Start(ctx context.Context, req actions.Request) (actions.PendingAction, <-chan actions.Result, error)
	Pending(account common.Address) (actions.PendingAction, bool)
}

// History lists journaled actions.
type History interface {
	Recent(ctx context.Context, account common.Address, limit int) ([]actions.PendingAction, error)
}

// Config tunes the API surface.
type Config struct {
	Decimals      uint8
	ActionTimeout time.Duration
	Auth          *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
}

// Server serves the lending HTTP API.
type Server struct {
	cfg      Config
	views    Views
	session  AccountSelector
	actions  Actions
	history  History
	logger   *slog.Logger
	validate *validator.Validate
}

// New constructs a Server. history may be nil.
func New(cfg Config, views Views, session AccountSelector, acts Actions, history History, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Decimals == 0 {
		cfg.Decimals = units.LedgerDecimals
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 5 * time.Minute
	}
	return &Server{
		cfg:      cfg,
		views:    views,
		session:  session,
		actions:  acts,
		history:  history,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (s *Server) guard(r chi.Router, route string, scopes ...string) {
	if s.cfg.RateLimiter != nil {
		r.Use(s.cfg.RateLimiter.Middleware(route))
	}
	if s.cfg.Auth != nil {
		r.Use(s.cfg.Auth.Middleware(scopes...))
	}
	if s.cfg.Observability != nil {
		r.Use(s.cfg.Observability.Middleware(route))
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.CORS(s.cfg.CORS))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(g chi.Router) {
			s.guard(g, "snapshot", middleware.ScopeRead)
			g.Get("/snapshot", s.handleSnapshot)
			g.Get("/actions/pending", s.handlePending)
			g.Get("/actions/history", s.handleHistory)
		})
		v1.Group(func(g chi.Router) {
			s.guard(g, "events", middleware.ScopeRead)
			g.Get("/events", s.handleEvents)
		})
		v1.Group(func(g chi.Router) {
			s.guard(g, "session", middleware.ScopeWrite)
			g.Put("/session/account", s.handleSetAccount)
			g.Post("/session/refresh", s.handleRefresh)
		})
		v1.Group(func(g chi.Router) {
			s.guard(g, "actions", middleware.ScopeWrite)
			g.Post("/actions", s.handleAction)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	view := s.views.Current()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"account":    view.Account.Hex(),
		"loaded":     !view.Empty(),
		"stale":      view.Stale,
		"generation": view.Generation,
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	view := s.views.Current()
	if (view.Account == common.Address{}) {
		s.writeError(w, actions.ErrNoAccount)
		return
	}
	tag := etag(view)
	w.Header().Set("ETag", tag)
	w.Header().Set("Cache-Control", "no-cache")
	if match := r.Header.Get("If-None-Match"); match != "" && match == tag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshot(view, s.cfg.Decimals))
}

func (s *Server) handleSetAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if !s.decode(w, r, &req) {
		return
	}
	account := common.HexToAddress(req.Account)
	if !s.permitted(w, r, account) {
		return
	}
	s.session.SetAccount(account)
	s.logger.Info("account selected", slog.String("account", account.Hex()), slog.String("subject", middleware.SubjectFromContext(r.Context())))
	writeJSON(w, http.StatusAccepted, map[string]string{"account": account.Hex()})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.session.Refresh()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	view := s.views.Current()
	action, ok := s.actions.Pending(view.Account)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Action: action})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusOK, []actions.PendingAction{})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := s.history.Recent(r.Context(), s.views.Current().Account, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if !s.decode(w, r, &req) {
		return
	}
	kind, err := actions.ParseKind(req.Kind)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !s.permitted(w, r, s.views.Current().Account) {
		return
	}
	action, results, err := s.actions.Start(r.Context(), actions.Request{
		Kind:       kind,
		Amount:     req.Amount,
		Collateral: req.Collateral,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); r.URL.Query().Has("wait") && !wait {
		writeJSON(w, http.StatusAccepted, actionResponse{Action: action})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ActionTimeout)
	defer cancel()
	select {
	case <-ctx.Done():
		status, body := toStatus(context.DeadlineExceeded)
		writeJSON(w, status, actionResponse{Action: action, Error: &body})
	case result := <-results:
		resp := actionResponse{Action: result.Action}
		if result.View != nil {
			resp.Snapshot = toSnapshot(result.View, s.cfg.Decimals)
		}
		status := http.StatusOK
		if result.Err != nil {
			var body apiError
			status, body = toStatus(result.Err)
			resp.Error = &body
		}
		writeJSON(w, status, resp)
	}
}

// permitted rejects callers whose token is bound to a different account.
func (s *Server) permitted(w http.ResponseWriter, r *http.Request, account common.Address) bool {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok || principal.Allows(account) {
		return true
	}
	writeJSON(w, http.StatusForbidden, apiError{Code: "account_forbidden", Message: "token is bound to " + principal.Account.Hex()})
	return false
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Code: "invalid_request", Message: "malformed JSON body"})
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		msg := err.Error()
		if errors.As(err, &verrs) && len(verrs) > 0 {
			msg = strings.ToLower(verrs[0].Field()) + " failed " + verrs[0].Tag() + " validation"
		}
		writeJSON(w, http.StatusBadRequest, apiError{Code: "invalid_request", Message: msg})
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, body := toStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.Any("error", err))
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
