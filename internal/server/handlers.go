package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"CDPLedger/internal/core"
)

var errBadRequest = errors.New("bad request")

type commandResponse struct {
	Sequence  int64 `json:"sequence"`
	Duplicate bool  `json:"duplicate"`
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, cmd core.Command) {
	res := s.engine.Submit(r.Context(), cmd)
	if res.Err != nil {
		s.writeError(w, res.Err)
		return
	}
	status := http.StatusOK
	if res.Duplicate {
		// Replayed command; the original outcome stands.
		status = http.StatusConflict
	}
	s.writeJSON(w, status, commandResponse{Sequence: res.Sequence, Duplicate: res.Duplicate})
}

func idempotencyKey(r *http.Request) string {
	return r.Header.Get("Idempotency-Key")
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func parseAmount(field, s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errBadRequest, field, err)
	}
	return v, nil
}

func parseOptionalUUID(field, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s: %v", errBadRequest, field, err)
	}
	return id, nil
}

func parseRequiredUUID(field, s string) (uuid.UUID, error) {
	id, err := parseOptionalUUID(field, s)
	if err != nil {
		return uuid.Nil, err
	}
	if id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: %s is required", errBadRequest, field)
	}
	return id, nil
}

func ownerFromPath(r *http.Request) (uuid.UUID, error) {
	return parseRequiredUUID("owner", chi.URLParam(r, "owner"))
}

// --- command handlers ---

type fundCollateralRequest struct {
	Holder string `json:"holder"`
	Amount string `json:"amount"`
}

func (s *Server) handleFundCollateral(w http.ResponseWriter, r *http.Request) {
	var req fundCollateralRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	holder, err := parseRequiredUUID("holder", req.Holder)
	if err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.submit(w, r, &core.FundCollateral{
		IdempotencyKey: idempotencyKey(r),
		Holder:         holder,
		Amount:         amount,
	})
}

type openPositionRequest struct {
	Caller     string `json:"caller"`
	Owner      string `json:"owner"`
	Collateral string `json:"collateral"`
	Debt       string `json:"debt"`
	HintPrev   string `json:"hint_prev,omitempty"`
	HintNext   string `json:"hint_next,omitempty"`
}

func (s *Server) handleOpenPosition(w http.ResponseWriter, r *http.Request) {
	var req openPositionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	caller, err := parseRequiredUUID("caller", req.Caller)
	if err != nil {
		s.writeError(w, err)
		return
	}
	owner, err := parseRequiredUUID("owner", req.Owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	collateral, err := parseAmount("collateral", req.Collateral)
	if err != nil {
		s.writeError(w, err)
		return
	}
	debt, err := parseAmount("debt", req.Debt)
	if err != nil {
		s.writeError(w, err)
		return
	}
	hintPrev, err := parseOptionalUUID("hint_prev", req.HintPrev)
	if err != nil {
		s.writeError(w, err)
		return
	}
	hintNext, err := parseOptionalUUID("hint_next", req.HintNext)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.submit(w, r, &core.OpenPosition{
		IdempotencyKey: idempotencyKey(r),
		Caller:         caller,
		Owner:          owner,
		Collateral:     collateral,
		Debt:           debt,
		HintPrev:       hintPrev,
		HintNext:       hintNext,
	})
}

type adjustPositionRequest struct {
	Caller             string `json:"caller"`
	CollateralDeposit  string `json:"collateral_deposit,omitempty"`
	CollateralWithdraw string `json:"collateral_withdraw,omitempty"`
	DebtChange         string `json:"debt_change,omitempty"`
	IsDebtIncrease     bool   `json:"is_debt_increase"`
	HintPrev           string `json:"hint_prev,omitempty"`
	HintNext           string `json:"hint_next,omitempty"`
}

func (s *Server) handleAdjustPosition(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromPath(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req adjustPositionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	caller, err := parseRequiredUUID("caller", req.Caller)
	if err != nil {
		s.writeError(w, err)
		return
	}
	deposit, err := parseAmount("collateral_deposit", req.CollateralDeposit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	withdraw, err := parseAmount("collateral_withdraw", req.CollateralWithdraw)
	if err != nil {
		s.writeError(w, err)
		return
	}
	debtChange, err := parseAmount("debt_change", req.DebtChange)
	if err != nil {
		s.writeError(w, err)
		return
	}
	hintPrev, err := parseOptionalUUID("hint_prev", req.HintPrev)
	if err != nil {
		s.writeError(w, err)
		return
	}
	hintNext, err := parseOptionalUUID("hint_next", req.HintNext)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.submit(w, r, &core.AdjustPosition{
		IdempotencyKey:     idempotencyKey(r),
		Caller:             caller,
		Owner:              owner,
		CollateralDeposit:  deposit,
		CollateralWithdraw: withdraw,
		DebtChange:         debtChange,
		IsDebtIncrease:     req.IsDebtIncrease,
		HintPrev:           hintPrev,
		HintNext:           hintNext,
	})
}

type closePositionRequest struct {
	Caller string `json:"caller"`
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromPath(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req closePositionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	caller, err := parseRequiredUUID("caller", req.Caller)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.submit(w, r, &core.ClosePosition{
		IdempotencyKey: idempotencyKey(r),
		Caller:         caller,
		Owner:          owner,
	})
}

type liquidateRequest struct {
	Liquidator string `json:"liquidator"`
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromPath(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req liquidateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	liquidator, err := parseRequiredUUID("liquidator", req.Liquidator)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.submit(w, r, &core.Liquidate{
		IdempotencyKey: idempotencyKey(r),
		Liquidator:     liquidator,
		Owner:          owner,
	})
}

type batchLiquidateRequest struct {
	Liquidator string   `json:"liquidator"`
	Owners     []string `json:"owners"`
}

func (s *Server) handleBatchLiquidate(w http.ResponseWriter, r *http.Request) {
	var req batchLiquidateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	liquidator, err := parseRequiredUUID("liquidator", req.Liquidator)
	if err != nil {
		s.writeError(w, err)
		return
	}
	owners := make([]uuid.UUID, 0, len(req.Owners))
	for i, o := range req.Owners {
		id, err := parseRequiredUUID(fmt.Sprintf("owners[%d]", i), o)
		if err != nil {
			s.writeError(w, err)
			return
		}
		owners = append(owners, id)
	}
	s.submit(w, r, &core.BatchLiquidate{
		IdempotencyKey: idempotencyKey(r),
		Liquidator:     liquidator,
		Owners:         owners,
	})
}

type redeemRequest struct {
	Redeemer         string `json:"redeemer"`
	Amount           string `json:"amount"`
	FirstHint        string `json:"first_hint,omitempty"`
	PartialHintPrev  string `json:"partial_hint_prev,omitempty"`
	PartialHintNext  string `json:"partial_hint_next,omitempty"`
	PartialNICR      string `json:"partial_nicr,omitempty"`
	MaxIterations    int    `json:"max_iterations,omitempty"`
	MaxFeePercentage string `json:"max_fee_percentage"`
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	redeemer, err := parseRequiredUUID("redeemer", req.Redeemer)
	if err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	firstHint, err := parseOptionalUUID("first_hint", req.FirstHint)
	if err != nil {
		s.writeError(w, err)
		return
	}
	partialPrev, err := parseOptionalUUID("partial_hint_prev", req.PartialHintPrev)
	if err != nil {
		s.writeError(w, err)
		return
	}
	partialNext, err := parseOptionalUUID("partial_hint_next", req.PartialHintNext)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var partialNICR *uint256.Int
	if req.PartialNICR != "" {
		partialNICR, err = parseAmount("partial_nicr", req.PartialNICR)
		if err != nil {
			s.writeError(w, err)
			return
		}
	}
	maxFee, err := parseAmount("max_fee_percentage", req.MaxFeePercentage)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.submit(w, r, &core.RedeemCollateral{
		IdempotencyKey:   idempotencyKey(r),
		Redeemer:         redeemer,
		Amount:           amount,
		FirstHint:        firstHint,
		PartialHintPrev:  partialPrev,
		PartialHintNext:  partialNext,
		PartialNICR:      partialNICR,
		MaxIterations:    req.MaxIterations,
		MaxFeePercentage: maxFee,
	})
}

type whitelistDelegateRequest struct {
	Delegate    string `json:"delegate"`
	Whitelisted bool   `json:"whitelisted"`
}

func (s *Server) handleWhitelistDelegate(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromPath(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req whitelistDelegateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	delegate, err := parseRequiredUUID("delegate", req.Delegate)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.submit(w, r, &core.WhitelistDelegate{
		IdempotencyKey: idempotencyKey(r),
		Owner:          owner,
		Delegate:       delegate,
		Whitelisted:    req.Whitelisted,
	})
}

func (s *Server) handleSetGlobalDelegate(w http.ResponseWriter, r *http.Request) {
	var req whitelistDelegateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	delegate, err := parseRequiredUUID("delegate", req.Delegate)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.submit(w, r, &core.SetGlobalDelegate{
		IdempotencyKey: idempotencyKey(r),
		Delegate:       delegate,
		Whitelisted:    req.Whitelisted,
	})
}

type setSpreadRequest struct {
	Spread string `json:"spread"`
}

func (s *Server) handleSetBorrowingSpread(w http.ResponseWriter, r *http.Request) {
	var req setSpreadRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	spread, err := parseAmount("spread", req.Spread)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.submit(w, r, &core.SetBorrowingSpread{
		IdempotencyKey: idempotencyKey(r),
		Spread:         spread,
	})
}

type setFeeRequest struct {
	Fee string `json:"fee"`
}

func (s *Server) handleSetLiquidationProtocolFee(w http.ResponseWriter, r *http.Request) {
	var req setFeeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	fee, err := parseAmount("fee", req.Fee)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.submit(w, r, &core.SetLiquidationProtocolFee{
		IdempotencyKey: idempotencyKey(r),
		Fee:            fee,
	})
}

// --- query handlers ---

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromPath(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	view, err := s.query.Position(r.Context(), owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGetSystem(w http.ResponseWriter, r *http.Request) {
	view, err := s.query.System(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGetHints(w http.ResponseWriter, r *http.Request) {
	nicr, err := parseAmount("nicr", r.URL.Query().Get("nicr"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if nicr.IsZero() {
		s.writeError(w, fmt.Errorf("%w: nicr is required", errBadRequest))
		return
	}
	view, err := s.query.Hints(r.Context(), nicr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGetSortedOwners(w http.ResponseWriter, r *http.Request) {
	ids, err := s.query.SortedOwners(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"owners": ids})
}

type eventView struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	CommandKind    string          `json:"command_kind"`
	IdempotencyKey string          `json:"idempotency_key"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      string          `json:"state_hash"`
	PrevHash       string          `json:"prev_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

// handleGetEvents pages through the persisted event log so downstream
// consumers can fill gaps left by dropped publishes.
func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	from, err := parseIntQuery(r, "from", 0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	limit, err := parseIntQuery(r, "limit", 100)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if limit < 1 || limit > 1000 {
		s.writeError(w, fmt.Errorf("%w: limit must be in [1, 1000]", errBadRequest))
		return
	}

	rows, err := s.events.LoadEventsFrom(r.Context(), from, int(limit))
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]eventView, 0, len(rows))
	for _, e := range rows {
		views = append(views, eventView{
			Sequence:       e.Sequence,
			EventType:      e.EventType,
			CommandKind:    e.CommandKind,
			IdempotencyKey: e.IdempotencyKey,
			Payload:        json.RawMessage(e.Payload),
			StateHash:      hex.EncodeToString(e.StateHash),
			PrevHash:       hex.EncodeToString(e.PrevHash),
			Timestamp:      e.Timestamp,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": views})
}

func parseIntQuery(r *http.Request, field string, defaultVal int64) (int64, error) {
	raw := r.URL.Query().Get(field)
	if raw == "" {
		return defaultVal, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", errBadRequest, field, err)
	}
	return v, nil
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	holder, err := parseRequiredUUID("holder", chi.URLParam(r, "holder"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	view, err := s.query.Balances(r.Context(), holder)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}
