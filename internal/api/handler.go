// Package api exposes the league program over HTTP.
//
// Callers identify themselves with the X-Signer header on mutations and
// X-Requester on private reads. Amounts are micro-units unless a field is
// rendered as a decimal string.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/league-engine/internal/fixedpoint"
	"github.com/atmx/league-engine/internal/league"
	"github.com/atmx/league-engine/internal/model"
)

const (
	signerHeader    = "X-Signer"
	requesterHeader = "X-Requester"
)

// Handler serves the league API.
type Handler struct {
	svc *league.Service
}

// NewHandler creates a handler over svc.
func NewHandler(svc *league.Service) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts every endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/config", h.GetConfig)
	r.Post("/config", h.Initialize)
	r.Put("/config/admin", h.UpdateAdmin)
	r.Put("/config/treasury", h.UpdateTreasury)
	r.Put("/config/fee", h.UpdateFee)

	r.Get("/markets", h.ListMarkets)
	r.Post("/markets", h.CreateMarket)
	r.Get("/markets/{feed}", h.GetMarket)
	r.Put("/markets/{feed}", h.UpdateMarket)
	r.Delete("/markets/{feed}", h.DeleteMarket)

	r.Get("/leagues", h.ListLeagues)
	r.Post("/leagues", h.CreateLeague)
	r.Route("/leagues/{creator}/{id}", func(r chi.Router) {
		r.Get("/", h.GetLeague)
		r.Post("/start", h.StartLeague)
		r.Post("/close", h.CloseLeague)
		r.Post("/join", h.JoinLeague)
		r.Post("/claim", h.ClaimReward)

		r.Get("/leaderboard", h.GetLeaderboard)
		r.Post("/leaderboard/{user}", h.UpdateLeaderboard)

		r.Get("/participants/{user}", h.GetPortfolio)
		r.Post("/participants/{user}/update", h.UpdateParticipant)
		r.Get("/participants/{user}/positions", h.ListPositions)
		r.Get("/participants/{user}/positions/{seq}", h.GetPosition)
		r.Post("/participants/{user}/positions/{seq}/commit", h.CommitPosition)

		r.Post("/positions", h.InitPosition)
		r.Post("/positions/{seq}/open", h.OpenPosition)
		r.Post("/positions/{seq}/close", h.ClosePosition)
		r.Post("/positions/{seq}/permission", h.CreatePermission)
	})

	r.Post("/delegation/delegate", h.Delegate)
	r.Post("/delegation/commit", h.Commit)
	r.Post("/delegation/undelegate", h.Undelegate)
	r.Get("/delegation/status", h.DelegationStatus)
}

// --- Request/Response types ---

// ConfigRequest is the JSON body for POST /config and the PUT updates.
type ConfigRequest struct {
	Admin    string `json:"admin,omitempty"`
	Treasury string `json:"treasury,omitempty"`
	FeeBps   uint16 `json:"fee_bps"`
}

// InitPositionRequest is the JSON body for POST /positions.
type InitPositionRequest struct {
	Seq       uint64 `json:"seq"`
	PriceFeed string `json:"price_feed"`
}

// OpenRequest is the JSON body for POST /positions/{seq}/open.
type OpenRequest struct {
	Direction string `json:"direction"` // "long" or "short"
	Size      int64  `json:"size"`      // base units
	Leverage  uint8  `json:"leverage"`
}

// CloseRequest is the JSON body for POST /positions/{seq}/close. A zero
// size closes the whole position.
type CloseRequest struct {
	Size int64 `json:"size"`
}

// CloseResponse reports a close.
type CloseResponse struct {
	league.Receipt
	ClosedSize  int64           `json:"closed_size"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Released    decimal.Decimal `json:"released_margin"`
	Full        bool            `json:"full"`
}

// UpdateRequest is the JSON body for POST /participants/{user}/update.
type UpdateRequest struct {
	Positions []league.PositionRef `json:"positions"`
	Commit    bool                 `json:"commit"`
}

// PermissionRequest is the JSON body for POST /positions/{seq}/permission.
type PermissionRequest struct {
	Group   string   `json:"group"`
	Members []string `json:"members"`
}

// DelegationRequest is the JSON body for the delegation endpoints. Account
// keys contain slashes so they travel in the body.
type DelegationRequest struct {
	Account   string `json:"account"`
	Validator string `json:"validator,omitempty"`
}

// Portfolio is a participant snapshot with amounts in dollars.
type Portfolio struct {
	League            string          `json:"league"`
	User              string          `json:"user"`
	Equity            decimal.Decimal `json:"equity"`
	VirtualBalance    decimal.Decimal `json:"virtual_balance"`
	UsedMargin        decimal.Decimal `json:"used_margin"`
	UnrealizedPnL     decimal.Decimal `json:"unrealized_pnl"`
	TotalVolume       decimal.Decimal `json:"total_volume"`
	MarginUtilization decimal.Decimal `json:"margin_utilization"` // percent of equity
	OpenPositions     []uint64        `json:"open_positions"`
	CurrentSeq        uint64          `json:"current_position_seq"`
	Claimed           bool            `json:"claimed"`
}

func portfolioOf(p *model.Participant) Portfolio {
	equity := fixedpoint.ToDecimal(p.Equity())
	util := decimal.Zero
	if equity.IsPositive() {
		util = fixedpoint.ToDecimal(p.UsedMargin).Div(equity).Mul(decimal.NewFromInt(100)).Round(2)
	}
	open := p.OpenPositions
	if open == nil {
		open = []uint64{}
	}
	return Portfolio{
		League:            p.League,
		User:              p.User,
		Equity:            equity,
		VirtualBalance:    fixedpoint.ToDecimal(p.VirtualBalance),
		UsedMargin:        fixedpoint.ToDecimal(p.UsedMargin),
		UnrealizedPnL:     fixedpoint.ToDecimal(p.UnrealizedPnL),
		TotalVolume:       fixedpoint.ToDecimal(p.TotalVolume),
		MarginUtilization: util,
		OpenPositions:     open,
		CurrentSeq:        p.CurrentPositionSeq,
		Claimed:           p.Claimed,
	}
}

// --- Config ---

// GetConfig handles GET /api/v1/config
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.svc.Config(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// Initialize handles POST /api/v1/config. The signer becomes admin.
func (h *Handler) Initialize(w http.ResponseWriter, r *http.Request) {
	signer, ok := requireSigner(w, r)
	if !ok {
		return
	}
	var req ConfigRequest
	if !decode(w, r, &req) {
		return
	}
	rec, err := h.svc.Initialize(r.Context(), signer, req.Treasury, req.FeeBps)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// UpdateAdmin handles PUT /api/v1/config/admin
func (h *Handler) UpdateAdmin(w http.ResponseWriter, r *http.Request) {
	h.updateConfig(w, r, func(signer string, req ConfigRequest) (league.Receipt, error) {
		return h.svc.UpdateAdmin(r.Context(), signer, req.Admin)
	})
}

// UpdateTreasury handles PUT /api/v1/config/treasury
func (h *Handler) UpdateTreasury(w http.ResponseWriter, r *http.Request) {
	h.updateConfig(w, r, func(signer string, req ConfigRequest) (league.Receipt, error) {
		return h.svc.UpdateTreasury(r.Context(), signer, req.Treasury)
	})
}

// UpdateFee handles PUT /api/v1/config/fee
func (h *Handler) UpdateFee(w http.ResponseWriter, r *http.Request) {
	h.updateConfig(w, r, func(signer string, req ConfigRequest) (league.Receipt, error) {
		return h.svc.UpdateFeeBps(r.Context(), signer, req.FeeBps)
	})
}

func (h *Handler) updateConfig(w http.ResponseWriter, r *http.Request, fn func(string, ConfigRequest) (league.Receipt, error)) {
	signer, ok := requireSigner(w, r)
	if !ok {
		return
	}
	var req ConfigRequest
	if !decode(w, r, &req) {
		return
	}
	rec, err := fn(signer, req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// --- Markets ---

// ListMarkets handles GET /api/v1/markets
func (h *Handler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.svc.Markets(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, markets)
}

// CreateMarket handles POST /api/v1/markets
func (h *Handler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	signer, ok := requireSigner(w, r)
	if !ok {
		return
	}
	var req league.MarketParams
	if !decode(w, r, &req) {
		return
	}
	rec, err := h.svc.CreateMarket(r.Context(), signer, req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// GetMarket handles GET /api/v1/markets/{feed}
func (h *Handler) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.Market(r.Context(), chi.URLParam(r, "feed"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// UpdateMarket handles PUT /api/v1/markets/{feed}
func (h *Handler) UpdateMarket(w http.ResponseWriter, r *http.Request) {
	signer, ok := requireSigner(w, r)
	if !ok {
		return
	}
	var req league.MarketParams
	if !decode(w, r, &req) {
		return
	}
	req.PriceFeed = chi.URLParam(r, "feed")
	rec, err := h.svc.UpdateMarket(r.Context(), signer, req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DeleteMarket handles DELETE /api/v1/markets/{feed}
func (h *Handler) DeleteMarket(w http.ResponseWriter, r *http.Request) {
	signer, ok := requireSigner(w, r)
	if !ok {
		return
	}
	rec, err := h.svc.DeleteMarket(r.Context(), signer, chi.URLParam(r, "feed"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// --- Leagues ---

// ListLeagues handles GET /api/v1/leagues, optionally ?creator=<user>.
func (h *Handler) ListLeagues(w http.ResponseWriter, r *http.Request) {
	leagues, err := h.svc.Leagues(r.Context(), r.URL.Query().Get("creator"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, leagues)
}

// CreateLeague handles POST /api/v1/leagues
func (h *Handler) CreateLeague(w http.ResponseWriter, r *http.Request) {
	signer, ok := requireSigner(w, r)
	if !ok {
		return
	}
	var req league.CreateParams
	if !decode(w, r, &req) {
		return
	}
	rec, err := h.svc.CreateLeague(r.Context(), signer, req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// GetLeague handles GET /api/v1/leagues/{creator}/{id}
func (h *Handler) GetLeague(w http.ResponseWriter, r *http.Request) {
	l, err := h.svc.League(r.Context(), leagueKey(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// StartLeague handles POST /api/v1/leagues/{creator}/{id}/start
func (h *Handler) StartLeague(w http.ResponseWriter, r *http.Request) {
	h.leagueAction(w, r, h.svc.StartLeague)
}

// CloseLeague handles POST /api/v1/leagues/{creator}/{id}/close
func (h *Handler) CloseLeague(w http.ResponseWriter, r *http.Request) {
	h.leagueAction(w, r, h.svc.CloseLeague)
}

// JoinLeague handles POST /api/v1/leagues/{creator}/{id}/join
func (h *Handler) JoinLeague(w http.ResponseWriter, r *http.Request) {
	h.leagueAction(w, r, h.svc.JoinLeague)
}

func (h *Handler) leagueAction(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, signer, key string) (league.Receipt, error)) {
	signer, ok := requireSigner(w, r)
	if !ok {
		return
	}
	rec, err := fn(r.Context(), signer, leagueKey(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ClaimReward handles POST /api/v1/leagues/{creator}/{id}/claim
func (h *Handler) ClaimReward(w http.ResponseWriter, r *http.Request) {
	signer, ok := requireSigner(w, r)
	if !ok {
		return
	}
	amount, rec, err := h.svc.ClaimReward(r.Context(), signer, leagueKey(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"receipt": rec,
		"amount":  amount,
	})
}

// --- Leaderboard and participants ---

// GetLeaderboard handles GET /api/v1/leagues/{creator}/{id}/leaderboard
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	lb, err := h.svc.Leaderboard(r.Context(), leagueKey(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lb)
}

// UpdateLeaderboard handles POST /api/v1/leagues/{creator}/{id}/leaderboard/{user}
func (h *Handler) UpdateLeaderboard(w http.ResponseWriter, r *http.Request) {
	rank, rec, err := h.svc.UpdateLeaderboard(r.Context(), leagueKey(r), chi.URLParam(r, "user"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"receipt": rec,
		"rank":    rank,
	})
}

// GetPortfolio handles GET /api/v1/leagues/{creator}/{id}/participants/{user}
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Participant(r.Context(), leagueKey(r), chi.URLParam(r, "user"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, portfolioOf(p))
}

// UpdateParticipant handles POST /api/v1/leagues/{creator}/{id}/participants/{user}/update.
// Anyone may crank a participant; with commit set a delegated participant
// is checkpointed to the base ledger afterwards.
func (h *Handler) UpdateParticipant(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if !decode(w, r, &req) {
		return
	}
	ctx, key, user := r.Context(), leagueKey(r), chi.URLParam(r, "user")

	var (
		rec       league.Receipt
		committed bool
		err       error
	)
	if req.Commit {
		rec, committed, err = h.svc.UpdateAndCommitParticipant(ctx, key, user, req.Positions)
	} else {
		rec, err = h.svc.UpdateParticipant(ctx, key, user, req.Positions)
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"receipt":   rec,
		"committed": committed,
	})
}

// --- Positions ---

// ListPositions handles GET /api/v1/leagues/{creator}/{id}/participants/{user}/positions
func (h *Handler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.svc.Positions(r.Context(), requester(r), leagueKey(r), chi.URLParam(r, "user"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

// GetPosition handles GET /api/v1/leagues/{creator}/{id}/participants/{user}/positions/{seq}
func (h *Handler) GetPosition(w http.ResponseWriter, r *http.Request) {
	seq, ok := seqParam(w, r)
	if !ok {
		return
	}
	pos, err := h.svc.Position(r.Context(), requester(r), leagueKey(r), chi.URLParam(r, "user"), seq)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// CommitPosition handles POST /api/v1/leagues/{creator}/{id}/participants/{user}/positions/{seq}/commit
func (h *Handler) CommitPosition(w http.ResponseWriter, r *http.Request) {
	seq, ok := seqParam(w, r)
	if !ok {
		return
	}
	applied, err := h.svc.CommitPosition(r.Context(), leagueKey(r), chi.URLParam(r, "user"), seq)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"applied": applied})
}

// InitPosition handles POST /api/v1/leagues/{creator}/{id}/positions
func (h *Handler) InitPosition(w http.ResponseWriter, r *http.Request) {
	signer, ok := requireSigner(w, r)
	if !ok {
		return
	}
	var req InitPositionRequest
	if !decode(w, r, &req) {
		return
	}
	rec, err := h.svc.InitPosition(r.Context(), signer, leagueKey(r), req.Seq, req.PriceFeed)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// OpenPosition handles POST /api/v1/leagues/{creator}/{id}/positions/{seq}/open
func (h *Handler) OpenPosition(w http.ResponseWriter, r *http.Request) {
	signer, ok := requireSigner(w, r)
	if !ok {
		return
	}
	seq, ok := seqParam(w, r)
	if !ok {
		return
	}
	var req OpenRequest
	if !decode(w, r, &req) {
		return
	}

	var dir model.Direction
	switch req.Direction {
	case "long":
		dir = model.Long
	case "short":
		dir = model.Short
	default:
		writeError(w, "direction must be long or short", http.StatusBadRequest)
		return
	}

	rec, err := h.svc.OpenPosition(r.Context(), signer, league.OpenParams{
		League:    leagueKey(r),
		Seq:       seq,
		Direction: dir,
		Size:      req.Size,
		Leverage:  req.Leverage,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ClosePosition handles POST /api/v1/leagues/{creator}/{id}/positions/{seq}/close
func (h *Handler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	signer, ok := requireSigner(w, r)
	if !ok {
		return
	}
	seq, ok := seqParam(w, r)
	if !ok {
		return
	}
	var req CloseRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	res, rec, err := h.svc.ClosePosition(r.Context(), signer, leagueKey(r), seq, req.Size)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CloseResponse{
		Receipt:     rec,
		ClosedSize:  res.ClosedSize,
		RealizedPnL: fixedpoint.ToDecimal(res.Realized),
		Released:    fixedpoint.ToDecimal(res.Released),
		Full:        res.Full,
	})
}

// CreatePermission handles POST /api/v1/leagues/{creator}/{id}/positions/{seq}/permission
func (h *Handler) CreatePermission(w http.ResponseWriter, r *http.Request) {
	signer, ok := requireSigner(w, r)
	if !ok {
		return
	}
	seq, ok := seqParam(w, r)
	if !ok {
		return
	}
	var req PermissionRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.CreatePositionPermission(r.Context(), signer, leagueKey(r), seq, req.Group, req.Members); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Delegation ---

// Delegate handles POST /api/v1/delegation/delegate
func (h *Handler) Delegate(w http.ResponseWriter, r *http.Request) {
	signer, ok := requireSigner(w, r)
	if !ok {
		return
	}
	var req DelegationRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.Delegate(r.Context(), signer, req.Account, req.Validator); err != nil {
		writeErr(w, err)
		return
	}
	h.writeStatus(w, r, req.Account, http.StatusAccepted)
}

// Commit handles POST /api/v1/delegation/commit
func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	var req DelegationRequest
	if !decode(w, r, &req) {
		return
	}
	applied, err := h.svc.Commit(r.Context(), req.Account)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"applied": applied})
}

// Undelegate handles POST /api/v1/delegation/undelegate
func (h *Handler) Undelegate(w http.ResponseWriter, r *http.Request) {
	signer, ok := requireSigner(w, r)
	if !ok {
		return
	}
	var req DelegationRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.Undelegate(r.Context(), signer, req.Account); err != nil {
		writeErr(w, err)
		return
	}
	h.writeStatus(w, r, req.Account, http.StatusOK)
}

// DelegationStatus handles GET /api/v1/delegation/status?account=<key>
func (h *Handler) DelegationStatus(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}
	h.writeStatus(w, r, account, http.StatusOK)
}

func (h *Handler) writeStatus(w http.ResponseWriter, r *http.Request, account string, code int) {
	st, err := h.svc.DelegationStatus(r.Context(), account)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, code, st)
}

// --- Helpers ---

func leagueKey(r *http.Request) string {
	return model.LeagueKey(chi.URLParam(r, "creator"), chi.URLParam(r, "id"))
}

func requireSigner(w http.ResponseWriter, r *http.Request) (string, bool) {
	signer := r.Header.Get(signerHeader)
	if signer == "" {
		writeError(w, signerHeader+" header is required", http.StatusUnauthorized)
		return "", false
	}
	return signer, true
}

// requester identifies the caller of a private read; unauthenticated
// callers only see public positions.
func requester(r *http.Request) string {
	if v := r.Header.Get(requesterHeader); v != "" {
		return v
	}
	return r.Header.Get(signerHeader)
}

func seqParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	seq, err := strconv.ParseUint(chi.URLParam(r, "seq"), 10, 64)
	if err != nil {
		writeError(w, "invalid position sequence", http.StatusBadRequest)
		return 0, false
	}
	return seq, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// statusFor maps a program error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, model.ErrAlreadyExists),
		errors.Is(err, model.ErrAlreadyJoined),
		errors.Is(err, model.ErrAlreadyDelegated),
		errors.Is(err, model.ErrNotDelegated),
		errors.Is(err, model.ErrInvalidState),
		errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrInsufficientFunds),
		errors.Is(err, model.ErrInsufficientMargin):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrInvalidParam),
		errors.Is(err, model.ErrInvalidSequence),
		errors.Is(err, model.ErrInvalidTimeRange),
		errors.Is(err, model.ErrLeverageExceeded),
		errors.Is(err, model.ErrLeagueFull),
		errors.Is(err, model.ErrMaxOpenPositions):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrOracle):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
		msg = "internal error"
	}
	writeError(w, msg, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
