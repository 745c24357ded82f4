package server

import (
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"PariLedger/internal/market"
	"PariLedger/internal/observability"
	"PariLedger/internal/query"
	"PariLedger/internal/registry"
)

// Handlers translates JSON requests into engine calls. The engine enforces
// every time, state, and authorization precondition itself; handlers only
// parse, dispatch, and map errors. The wall clock is read here and passed
// into the engine as an explicit timestamp.
type Handlers struct {
	registry *registry.Registry
	query    *query.Service
	clock    func() int64
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewHandlers(reg *registry.Registry, qs *query.Service, metrics *observability.Metrics, logger zerolog.Logger) *Handlers {
	return &Handlers{
		registry: reg,
		query:    qs,
		clock:    func() int64 { return time.Now().Unix() },
		metrics:  metrics,
		logger:   logger,
	}
}

// WithClock overrides the timestamp source.
func (h *Handlers) WithClock(clock func() int64) *Handlers {
	h.clock = clock
	return h
}

func (h *Handlers) lookup(w http.ResponseWriter, r *http.Request) (*market.Market, bool) {
	addr, ok := parseAddress(r.PathValue("addr"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market address")
		return nil, false
	}
	m, err := h.registry.Lookup(addr)
	if err != nil {
		writeEngineError(w, err)
		return nil, false
	}
	return m, true
}

func (h *Handlers) reject(op string, err error) {
	if h.metrics != nil {
		h.metrics.EngineRejects.WithLabelValues(op, err.Error()).Inc()
	}
}

type assetSpec struct {
	Addr     string `json:"addr"`
	Decimals uint8  `json:"decimals"`
}

type createMarketRequest struct {
	Caller     string      `json:"caller"`
	Pair       string      `json:"pair"`
	PairID     string      `json:"pair_id"`
	WindowType string      `json:"window_type"`
	StartTime  int64       `json:"start_time"`
	EndTime    int64       `json:"end_time"`
	RakeBps    uint16      `json:"rake_bps"`
	Assets     []assetSpec `json:"assets"`
}

// CreateMarket handles POST /api/markets.
func (h *Handlers) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}

	var pairID common.Hash
	switch {
	case req.PairID != "":
		pairID = common.HexToHash(req.PairID)
	case req.Pair != "":
		pairID = crypto.Keccak256Hash([]byte(req.Pair))
	default:
		writeError(w, http.StatusBadRequest, "pair or pair_id required")
		return
	}

	windowType, ok := parseWindowType(req.WindowType)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid window_type")
		return
	}

	assets := make([]market.AssetInfo, 0, len(req.Assets))
	for _, a := range req.Assets {
		addr, ok := parseAddress(a.Addr)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid asset address")
			return
		}
		assets = append(assets, market.AssetInfo{Addr: addr, Decimals: a.Decimals})
	}

	m, err := h.registry.Create(h.clock(), caller, registry.CreateParams{
		Key: registry.Key{
			PairID:     pairID,
			WindowType: windowType,
			StartTime:  req.StartTime,
		},
		EndTime: req.EndTime,
		RakeBps: req.RakeBps,
		Assets:  assets,
	})
	if err != nil {
		h.reject("create", err)
		writeEngineError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.MarketsCreated.WithLabelValues(pairID.Hex(), windowType.String()).Inc()
	}
	h.logger.Info().
		Str("market", m.Addr().Hex()).
		Str("pair_id", pairID.Hex()).
		Str("window_type", windowType.String()).
		Msg("market created")
	writeJSON(w, http.StatusCreated, m.Snapshot())
}

// ListMarkets handles GET /api/markets. An optional pair query parameter
// (pair name or pair_id hex) filters by pair.
func (h *Handlers) ListMarkets(w http.ResponseWriter, r *http.Request) {
	var markets []*market.Market
	if pair := r.URL.Query().Get("pair"); pair != "" {
		pairID := common.HexToHash(pair)
		if len(pair) < 2 || pair[:2] != "0x" {
			pairID = crypto.Keccak256Hash([]byte(pair))
		}
		markets = h.registry.ByPair(pairID)
	} else {
		markets = h.registry.All()
	}

	views := make([]market.View, 0, len(markets))
	for _, m := range markets {
		views = append(views, m.Snapshot())
	}
	writeJSON(w, http.StatusOK, views)
}

// GetMarket handles GET /api/markets/{addr}.
func (h *Handlers) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, m.Snapshot())
}

// GetMultipliers handles GET /api/markets/{addr}/multipliers.
func (h *Handlers) GetMultipliers(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookup(w, r)
	if !ok {
		return
	}

	up, err := m.Multiplier(market.SideUp)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	down, err := m.Multiplier(market.SideDown)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"up":   up.String(),
		"down": down.String(),
	})
}

type depositRequest struct {
	Caller string `json:"caller"`
	Side   string `json:"side"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// Deposit handles POST /api/markets/{addr}/deposits.
func (h *Handlers) Deposit(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req depositRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}
	side, ok := parseSide(req.Side)
	if !ok {
		writeError(w, http.StatusBadRequest, "side must be up or down")
		return
	}
	asset, ok := parseAddress(req.Asset)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid asset address")
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	if err := m.Deposit(h.clock(), caller, side, asset, amount); err != nil {
		h.reject("deposit", err)
		writeEngineError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.Deposits.WithLabelValues(m.Config().PairID.Hex(), side.String()).Inc()
	}
	writeJSON(w, http.StatusOK, m.Snapshot())
}

type callerRequest struct {
	Caller string `json:"caller"`
}

// CloseBetting handles POST /api/markets/{addr}/close.
func (h *Handlers) CloseBetting(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req callerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}

	if err := m.CloseBetting(h.clock(), caller); err != nil {
		h.reject("close", err)
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m.Snapshot())
}

type resolveRequest struct {
	Caller         string `json:"caller"`
	Outcome        string `json:"outcome"`
	OpenReference  int64  `json:"open_reference"`
	CloseReference int64  `json:"close_reference"`
	SourceID       string `json:"source_id"`
}

// Resolve handles POST /api/markets/{addr}/resolve.
func (h *Handlers) Resolve(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}
	outcome, ok := parseOutcome(req.Outcome)
	if !ok {
		writeError(w, http.StatusBadRequest, "outcome must be up or down")
		return
	}

	if err := m.Resolve(h.clock(), caller, outcome, req.OpenReference, req.CloseReference, req.SourceID); err != nil {
		h.reject("resolve", err)
		writeEngineError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.MarketsResolved.WithLabelValues(m.Config().PairID.Hex(), outcome.String()).Inc()
	}
	h.logger.Info().
		Str("market", m.Addr().Hex()).
		Str("outcome", outcome.String()).
		Str("source_id", req.SourceID).
		Msg("market resolved")
	writeJSON(w, http.StatusOK, m.Snapshot())
}

// Claim handles POST /api/markets/{addr}/claims.
func (h *Handlers) Claim(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req callerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}

	payout, err := m.Claim(caller)
	if err != nil {
		h.reject("claim", err)
		writeEngineError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.Claims.WithLabelValues(m.Config().PairID.Hex()).Inc()
	}
	writeJSON(w, http.StatusOK, map[string]string{"payout": payout.String()})
}

// EmergencyRefund handles POST /api/markets/{addr}/refunds.
func (h *Handlers) EmergencyRefund(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req callerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}

	principal, err := m.EmergencyRefund(h.clock(), caller)
	if err != nil {
		h.reject("refund", err)
		writeEngineError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.Refunds.WithLabelValues(m.Config().PairID.Hex()).Inc()
	}
	writeJSON(w, http.StatusOK, map[string]string{"principal": principal.String()})
}

type rakeRequest struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
}

// WithdrawRake handles POST /api/markets/{addr}/rake.
func (h *Handlers) WithdrawRake(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req rakeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}
	asset, ok := parseAddress(req.Asset)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid asset address")
		return
	}

	swept, err := m.WithdrawRake(caller, asset)
	if err != nil {
		h.reject("rake", err)
		writeEngineError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RakeSweeps.WithLabelValues(m.Config().PairID.Hex()).Inc()
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": swept.String()})
}

// GetPosition handles GET /api/markets/{addr}/positions/{user}.
func (h *Handlers) GetPosition(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookup(w, r)
	if !ok {
		return
	}
	user, ok := parseAddress(r.PathValue("user"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user address")
		return
	}

	view, err := m.UserSnapshot(user)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetEvents handles GET /api/markets/{addr}/events. Served from the
// persisted fact log; lags the engine by at most one flush interval.
func (h *Handlers) GetEvents(w http.ResponseWriter, r *http.Request) {
	if h.query == nil {
		writeError(w, http.StatusServiceUnavailable, "event log not available")
		return
	}
	m, ok := h.lookup(w, r)
	if !ok {
		return
	}

	after := queryInt(r, "after", -1)
	limit := int(queryInt(r, "limit", 100))

	facts, err := h.query.EventsByMarket(r.Context(), m.Addr().Hex(), after, limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("event query failed")
		writeError(w, http.StatusInternalServerError, "event query failed")
		return
	}
	writeJSON(w, http.StatusOK, facts)
}
