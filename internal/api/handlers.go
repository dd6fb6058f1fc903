// Package api exposes the ledger engine over HTTP.
//
// Callers are identified by the X-Caller-Identity header, which an upstream
// gateway sets after verifying the request signature. Every mutating
// endpoint runs exactly one ledger transition.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vegais/ledger-engine/internal/engine"
	"github.com/vegais/ledger-engine/internal/model"
	"github.com/vegais/ledger-engine/internal/registry"
	"github.com/vegais/ledger-engine/internal/store"
	"github.com/vegais/ledger-engine/internal/vault"
	"github.com/vegais/ledger-engine/internal/wager"
)

// CallerHeader carries the authenticated caller identity.
const CallerHeader = "X-Caller-Identity"

// maxEventLimit caps GET /events page size.
const maxEventLimit = 1000

// Handler serves the ledger API.
type Handler struct {
	svc *engine.Service
}

// NewHandler creates a Handler over svc.
func NewHandler(svc *engine.Service) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts the ledger endpoints on r. hub may be nil.
func (h *Handler) Routes(r chi.Router, hub *WSHub) {
	if hub != nil {
		r.Get("/ws", hub.HandleWS)
	}

	r.Post("/platform", h.InitializePlatform)
	r.Get("/platform", h.GetPlatform)

	r.Post("/users", h.CreateUser)
	r.Get("/users/{identity}", h.GetUser)
	r.Get("/users/{identity}/wagers", h.ListUserWagers)
	r.Get("/users/{identity}/investments", h.ListUserInvestments)
	r.Get("/users/{identity}/vault-bets", h.ListUserVaultBets)
	r.Post("/deposit", h.Deposit)
	r.Post("/withdraw", h.Withdraw)

	r.Post("/wagers", h.PlaceWager)
	r.Get("/wagers/{wagerID}", h.GetWager)
	r.Post("/wagers/{wagerID}/settle", h.SettleWager)

	r.Get("/pools", h.ListPools)
	r.Post("/pools", h.CreatePool)
	r.Get("/pools/{poolID}", h.GetPool)
	r.Post("/pools/{poolID}/status", h.SetPoolStatus)
	r.Post("/pools/{poolID}/invest", h.Invest)
	r.Post("/pools/{poolID}/redeem", h.Redeem)
	r.Get("/pools/{poolID}/investments/{identity}", h.GetInvestment)

	r.Post("/vault", h.InitializeVault)
	r.Get("/vault", h.GetVault)
	r.Post("/vault/active", h.SetVaultActive)
	r.Post("/vault/deposit", h.VaultDeposit)
	r.Post("/vault/withdraw", h.VaultWithdraw)
	r.Post("/vault/fees", h.CollectFees)
	r.Get("/vault/accounts/{identity}", h.GetVaultAccount)
	r.Post("/vault/bets", h.ExecuteVaultBet)
	r.Get("/vault/bets/{betID}", h.GetVaultBet)
	r.Post("/vault/bets/{betID}/settle", h.SettleVaultBet)
	r.Post("/vault/bets/{betID}/cancel", h.CancelVaultBet)

	r.Get("/events", h.ListEvents)
}

// --- Request bodies ---

type createUserRequest struct {
	Username string `json:"username"`
}

type amountRequest struct {
	Amount uint64 `json:"amount"`
}

type settleRequest struct {
	Result model.BetResult `json:"result"`
}

type poolStatusRequest struct {
	Status model.PoolStatus `json:"status"`
}

type redeemRequest struct {
	Shares uint64 `json:"shares"`
}

type initVaultRequest struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

type vaultActiveRequest struct {
	Active bool `json:"active"`
}

type vaultSettleRequest struct {
	Result model.BetResult `json:"result"`
	Profit int64           `json:"profit"`
}

// --- Platform and users ---

// InitializePlatform handles POST /api/v1/platform.
func (h *Handler) InitializePlatform(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.InitializePlatform(r.Context(), caller(r))
	respond(w, http.StatusCreated, out, err)
}

// GetPlatform handles GET /api/v1/platform.
func (h *Handler) GetPlatform(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Platform(r.Context())
	respond(w, http.StatusOK, out, err)
}

// CreateUser handles POST /api/v1/users.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.svc.CreateUser(r.Context(), caller(r), req.Username)
	respond(w, http.StatusCreated, out, err)
}

// GetUser handles GET /api/v1/users/{identity}.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.User(r.Context(), chi.URLParam(r, "identity"))
	respond(w, http.StatusOK, out, err)
}

func (h *Handler) ListUserWagers(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.WagersByUser(r.Context(), chi.URLParam(r, "identity"))
	respond(w, http.StatusOK, nonNil(out), err)
}

func (h *Handler) ListUserInvestments(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.InvestmentsByUser(r.Context(), chi.URLParam(r, "identity"))
	respond(w, http.StatusOK, nonNil(out), err)
}

func (h *Handler) ListUserVaultBets(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.VaultBetsByUser(r.Context(), chi.URLParam(r, "identity"))
	respond(w, http.StatusOK, nonNil(out), err)
}

// Deposit handles POST /api/v1/deposit.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.svc.Deposit(r.Context(), caller(r), req.Amount)
	respond(w, http.StatusOK, out, err)
}

// Withdraw handles POST /api/v1/withdraw.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.svc.Withdraw(r.Context(), caller(r), req.Amount)
	respond(w, http.StatusOK, out, err)
}

// --- Wagers ---

// PlaceWager handles POST /api/v1/wagers.
func (h *Handler) PlaceWager(w http.ResponseWriter, r *http.Request) {
	var req wager.PlaceRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.svc.PlaceWager(r.Context(), caller(r), req)
	respond(w, http.StatusCreated, out, err)
}

func (h *Handler) GetWager(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Wager(r.Context(), chi.URLParam(r, "wagerID"))
	respond(w, http.StatusOK, out, err)
}

// SettleWager handles POST /api/v1/wagers/{wagerID}/settle.
func (h *Handler) SettleWager(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.svc.SettleWager(r.Context(), caller(r), chi.URLParam(r, "wagerID"), req.Result)
	respond(w, http.StatusOK, out, err)
}

// --- Investment pools ---

func (h *Handler) ListPools(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Pools(r.Context())
	respond(w, http.StatusOK, nonNil(out), err)
}

// CreatePool handles POST /api/v1/pools.
func (h *Handler) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req registry.PoolParams
	if !decode(w, r, &req) {
		return
	}
	out, err := h.svc.CreatePool(r.Context(), caller(r), req)
	respond(w, http.StatusCreated, out, err)
}

func (h *Handler) GetPool(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Pool(r.Context(), chi.URLParam(r, "poolID"))
	respond(w, http.StatusOK, out, err)
}

// SetPoolStatus handles POST /api/v1/pools/{poolID}/status.
func (h *Handler) SetPoolStatus(w http.ResponseWriter, r *http.Request) {
	var req poolStatusRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.svc.SetPoolStatus(r.Context(), caller(r), chi.URLParam(r, "poolID"), req.Status)
	respond(w, http.StatusOK, out, err)
}

// Invest handles POST /api/v1/pools/{poolID}/invest.
func (h *Handler) Invest(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.svc.Invest(r.Context(), caller(r), chi.URLParam(r, "poolID"), req.Amount)
	respond(w, http.StatusCreated, out, err)
}

// Redeem handles POST /api/v1/pools/{poolID}/redeem.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.svc.Redeem(r.Context(), caller(r), chi.URLParam(r, "poolID"), req.Shares)
	respond(w, http.StatusOK, out, err)
}

func (h *Handler) GetInvestment(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Investment(r.Context(), chi.URLParam(r, "identity"), chi.URLParam(r, "poolID"))
	respond(w, http.StatusOK, out, err)
}

// --- Vault ---

// InitializeVault handles POST /api/v1/vault.
func (h *Handler) InitializeVault(w http.ResponseWriter, r *http.Request) {
	var req initVaultRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.svc.InitializeVault(r.Context(), caller(r), req.Name, req.Symbol)
	respond(w, http.StatusCreated, out, err)
}

func (h *Handler) GetVault(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Vault(r.Context())
	respond(w, http.StatusOK, out, err)
}

func (h *Handler) SetVaultActive(w http.ResponseWriter, r *http.Request) {
	var req vaultActiveRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.svc.SetVaultActive(r.Context(), caller(r), req.Active)
	respond(w, http.StatusOK, out, err)
}

// VaultDeposit handles POST /api/v1/vault/deposit.
func (h *Handler) VaultDeposit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.svc.VaultDeposit(r.Context(), caller(r), req.Amount)
	respond(w, http.StatusOK, out, err)
}

// VaultWithdraw handles POST /api/v1/vault/withdraw.
func (h *Handler) VaultWithdraw(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.svc.VaultWithdraw(r.Context(), caller(r), req.Amount)
	respond(w, http.StatusOK, out, err)
}

func (h *Handler) CollectFees(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.svc.CollectFees(r.Context(), caller(r), req.Amount)
	respond(w, http.StatusOK, out, err)
}

func (h *Handler) GetVaultAccount(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.VaultAccount(r.Context(), chi.URLParam(r, "identity"))
	respond(w, http.StatusOK, out, err)
}

// ExecuteVaultBet handles POST /api/v1/vault/bets.
func (h *Handler) ExecuteVaultBet(w http.ResponseWriter, r *http.Request) {
	var req vault.ExecuteRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.svc.ExecuteVaultBet(r.Context(), caller(r), req)
	respond(w, http.StatusCreated, out, err)
}

func (h *Handler) GetVaultBet(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.VaultBet(r.Context(), chi.URLParam(r, "betID"))
	respond(w, http.StatusOK, out, err)
}

// SettleVaultBet handles POST /api/v1/vault/bets/{betID}/settle.
func (h *Handler) SettleVaultBet(w http.ResponseWriter, r *http.Request) {
	var req vaultSettleRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.svc.SettleVaultBet(r.Context(), caller(r), chi.URLParam(r, "betID"), req.Result, req.Profit)
	respond(w, http.StatusOK, out, err)
}

func (h *Handler) CancelVaultBet(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.CancelVaultBet(r.Context(), caller(r), chi.URLParam(r, "betID"))
	respond(w, http.StatusOK, out, err)
}

// --- Audit log ---

// ListEvents handles GET /api/v1/events?user=&type=&limit=.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.EventFilter{
		User: q.Get("user"),
		Type: model.EventType(q.Get("type")),
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxEventLimit {
			writeError(w, "limit must be between 1 and "+strconv.Itoa(maxEventLimit), "invalid_request", http.StatusBadRequest)
			return
		}
		f.Limit = n
	}
	out, err := h.svc.Events(r.Context(), f)
	respond(w, http.StatusOK, nonNil(out), err)
}

// --- Helpers ---

func caller(r *http.Request) string {
	return r.Header.Get(CallerHeader)
}

// decode reads a JSON body into v, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "invalid request body", "invalid_request", http.StatusBadRequest)
		return false
	}
	return true
}

// respond writes v with status, or the mapped error response.
func respond(w http.ResponseWriter, status int, v any, err error) {
	if err != nil {
		code := engine.Code(err)
		msg := err.Error()
		if code == "internal" {
			msg = "internal error"
		}
		writeError(w, msg, code, statusFor(code))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// statusFor maps an engine error code to an HTTP status.
func statusFor(code string) int {
	switch code {
	case "not_found":
		return http.StatusNotFound
	case "unauthorized":
		return http.StatusForbidden
	case "invalid_identity":
		return http.StatusUnauthorized
	case "insufficient_balance":
		return http.StatusPaymentRequired
	case "already_exists", "already_settled", "inactive_account", "pool_inactive",
		"vault_inactive", "investment_inactive", "withdrawal_cooldown",
		"insufficient_shares", "no_investors":
		return http.StatusConflict
	case "invalid_request", "invalid_result", "invalid_status",
		"investment_too_small", "investment_too_large", "investment_out_of_bounds":
		return http.StatusBadRequest
	case "overflow", "underflow":
		return http.StatusUnprocessableEntity
	case "transfer_failed":
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}
