// Package api serves the node over HTTP: REST queries, transaction
// submission, Prometheus metrics and a WebSocket feed of block events.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/abci"
	"github.com/uhyunpark/hyperswap/pkg/app/core/dexerr"
	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperswap/pkg/app/core/pool"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperswap/pkg/app/dex"
	"github.com/uhyunpark/hyperswap/pkg/util"
)

const maxTxBytes = 1 << 20

// Server handles REST API and WebSocket connections
type Server struct {
	app     *dex.App
	chainID int64
	router  *mux.Router
	hub     *Hub
	logger  *zap.SugaredLogger
	origins []string
	srv     *http.Server
}

// NewServer creates a new API server. origins lists the CORS origins allowed
// to call it; empty allows any.
func NewServer(app *dex.App, chainID int64, origins []string, logger *zap.SugaredLogger) *Server {
	logger = util.OrNop(logger)
	s := &Server{
		app:     app,
		chainID: chainID,
		router:  mux.NewRouter(),
		hub:     NewHub(logger.Named("ws")),
		logger:  logger,
		origins: origins,
	}
	s.setupRoutes()
	return s
}

func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Pair endpoints
	api.HandleFunc("/pairs", s.handleGetPairs).Methods("GET")
	api.HandleFunc("/pairs/{a}/{b}", s.handleGetPair).Methods("GET")
	api.HandleFunc("/pairs/{a}/{b}/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/pairs/{a}/{b}/quote", s.handleGetQuote).Methods("GET")

	// Token endpoints
	api.HandleFunc("/tokens", s.handleGetTokens).Methods("GET")
	api.HandleFunc("/tokens/{token}/balances/{address}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/tokens/{token}/allowances/{owner}/{spender}", s.handleGetAllowance).Methods("GET")

	api.HandleFunc("/accounts/{address}/nonce", s.handleGetNonce).Methods("GET")

	// Chain endpoints
	api.HandleFunc("/chain/status", s.handleGetChainStatus).Methods("GET")
	api.HandleFunc("/chain/blocks/{height}", s.handleGetBlock).Methods("GET")

	api.HandleFunc("/tx", s.handleSubmitTx).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler is the router wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	opts := cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return cors.New(opts).Handler(s.router)
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	s.srv = &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()

	s.logger.Infow("api listening", "addr", addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetPairs(w http.ResponseWriter, r *http.Request) {
	pools := s.app.Engine().Pools()
	out := make([]PairInfo, len(pools))
	for i, p := range pools {
		out[i] = pairInfo(p)
	}
	respondJSON(w, out)
}

func (s *Server) handleGetPair(w http.ResponseWriter, r *http.Request) {
	a, b, ok := pairVars(w, r)
	if !ok {
		return
	}
	p, err := s.app.Engine().Pool(a, b)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, pairInfo(p))
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	a, b, ok := pairVars(w, r)
	if !ok {
		return
	}
	var side orderbook.Side
	if err := side.UnmarshalText([]byte(r.URL.Query().Get("side"))); err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", "side must be buy or sell")
		return
	}
	orders, err := s.app.Engine().Orders(a, b, side == orderbook.Buy)
	if err != nil {
		respondErr(w, err)
		return
	}

	now := s.app.LastBlockTime().Unix()
	activeOnly := r.URL.Query().Get("status") == "active"
	out := make([]OrderInfo, 0, len(orders))
	for _, o := range orders {
		if activeOnly && (!o.IsActive() || o.Expired(now)) {
			continue
		}
		out = append(out, OrderInfo{Order: o, Remaining: o.Remaining(), Expired: o.Expired(now), Locked: o.Locked(now)})
	}
	respondJSON(w, out)
}

func (s *Server) handleGetQuote(w http.ResponseWriter, r *http.Request) {
	a, b, ok := pairVars(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	tokenIn, ok := parseAddress(w, q.Get("tokenIn"))
	if !ok {
		return
	}
	var tokenOut common.Address
	switch tokenIn {
	case a:
		tokenOut = b
	case b:
		tokenOut = a
	default:
		respondError(w, http.StatusBadRequest, "invalid tokenIn", "tokenIn must be one of the pair")
		return
	}
	amountIn, err := uint256.FromDecimal(q.Get("amountIn"))
	if err != nil || amountIn.IsZero() {
		respondError(w, http.StatusBadRequest, "invalid amountIn", "amountIn must be a positive decimal integer")
		return
	}

	out, err := s.app.Engine().Quote(tokenIn, tokenOut, amountIn)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, QuoteResponse{
		TokenIn:   tokenIn.Hex(),
		TokenOut:  tokenOut.Hex(),
		AmountIn:  amountIn,
		AmountOut: out,
		Price:     ratio(out, amountIn),
	})
}

func (s *Server) handleGetTokens(w http.ResponseWriter, r *http.Request) {
	tokens := s.app.Engine().Tokens()
	out := make([]TokenInfo, len(tokens))
	for i, t := range tokens {
		out[i] = TokenInfo{
			Address:     t.Address.Hex(),
			Symbol:      t.Symbol,
			Owner:       t.Owner.Hex(),
			FeeBps:      t.FeeBps,
			TotalSupply: t.TotalSupply,
		}
	}
	respondJSON(w, out)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tok, ok := parseAddress(w, vars["token"])
	if !ok {
		return
	}
	holder, ok := parseAddress(w, vars["address"])
	if !ok {
		return
	}
	bal, err := s.app.Engine().BalanceOf(tok, holder)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, BalanceInfo{Token: tok.Hex(), Address: holder.Hex(), Balance: bal})
}

func (s *Server) handleGetAllowance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tok, ok := parseAddress(w, vars["token"])
	if !ok {
		return
	}
	owner, ok := parseAddress(w, vars["owner"])
	if !ok {
		return
	}
	spender, ok := parseAddress(w, vars["spender"])
	if !ok {
		return
	}
	amt, err := s.app.Engine().Allowance(tok, owner, spender)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, AllowanceInfo{Token: tok.Hex(), Owner: owner.Hex(), Spender: spender.Hex(), Allowance: amt})
}

func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}
	n := s.app.Nonce(addr)
	respondJSON(w, NonceInfo{Address: addr.Hex(), Nonce: n, Next: n + 1})
}

func (s *Server) handleGetChainStatus(w http.ResponseWriter, r *http.Request) {
	hash := s.app.AppHash()
	respondJSON(w, ChainStatus{
		Height:        s.app.Height(),
		AppHash:       hexutil.Encode(hash[:]),
		LastBlockTime: s.app.LastBlockTime().Unix(),
		MempoolSize:   s.app.Mempool().Len(),
		ChainID:       s.chainID,
	})
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.ParseUint(mux.Vars(r)["height"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid height", err.Error())
		return
	}
	blk, ok, err := s.app.Block(height)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "storage error", err.Error())
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "block not found", strconv.FormatUint(height, 10))
		return
	}
	info := BlockInfo{Height: blk.Height, Time: blk.Time, AppHash: hexutil.Encode(blk.AppHash[:])}
	for _, tx := range blk.Txs {
		info.Txs = append(info.Txs, string(tx))
	}
	for _, res := range blk.Results {
		info.Results = append(info.Results, TxResult{Code: res.Code, Kind: res.Kind, Log: res.Log})
	}
	respondJSON(w, info)
}

// handleSubmitTx admits a signed envelope to the mempool. Execution happens
// in a later block; the result is visible through /chain/blocks.
func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTxBytes+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}
	if len(body) > maxTxBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "transaction too large", "")
		return
	}

	hash, err := s.app.CheckTx(body)
	if err != nil {
		s.logger.Debugw("tx rejected", "err", err)
		respondErr(w, err)
		return
	}
	s.logger.Debugw("tx accepted", "hash", hash.Hex(), "bytes", len(body))
	respondJSON(w, SubmitTxResponse{Status: "accepted", Hash: hash.Hex()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Broadcast Methods (called on commit)
// ==============================

// PublishEvents fans block events out to WebSocket channels: pool activity
// to pool:<pair>, order activity to orders:<pair> and every event to blocks.
func (s *Server) PublishEvents(height uint64, events []abci.Event) {
	for _, ev := range events {
		if ch := channelFor(ev); ch != "" {
			s.hub.BroadcastToChannel(ch, WSMessage{Channel: ch, Type: ev.Type, Height: height, Data: ev.Attributes})
		}
		s.hub.BroadcastToChannel("blocks", WSMessage{Channel: "blocks", Type: ev.Type, Height: height, Data: ev.Attributes})
	}
}

func channelFor(ev abci.Event) string {
	pair := ev.Attributes["pair"]
	if pair == "" {
		return ""
	}
	switch ev.Type {
	case dex.EventOrderPlaced, dex.EventOrderCancelled, dex.EventOrderFill:
		return "orders:" + pair
	default:
		return "pool:" + pair
	}
}

// ==============================
// Helper Functions
// ==============================

func pairInfo(p pool.State) PairInfo {
	info := PairInfo{
		Token0:      p.Token0.Hex(),
		Token1:      p.Token1.Hex(),
		Pool:        p.Address.Hex(),
		LPToken:     p.LPToken.Hex(),
		FeeBps:      p.FeeBps,
		Reserve0:    p.Reserve0,
		Reserve1:    p.Reserve1,
		TotalVolume: p.TotalVolume,
	}
	if p.Reserve0 != nil && p.Reserve1 != nil && !p.Reserve0.IsZero() && !p.Reserve1.IsZero() {
		info.Price0 = ratio(p.Reserve1, p.Reserve0)
		info.Price1 = ratio(p.Reserve0, p.Reserve1)
	}
	return info
}

// ratio formats num/den as a decimal string.
func ratio(num, den *uint256.Int) string {
	if den.IsZero() {
		return ""
	}
	n := decimal.NewFromBigInt(num.ToBig(), 0)
	d := decimal.NewFromBigInt(den.ToBig(), 0)
	return n.DivRound(d, 18).String()
}

func pairVars(w http.ResponseWriter, r *http.Request) (common.Address, common.Address, bool) {
	vars := mux.Vars(r)
	a, ok := parseAddress(w, vars["a"])
	if !ok {
		return common.Address{}, common.Address{}, false
	}
	b, ok := parseAddress(w, vars["b"])
	return a, b, ok
}

func parseAddress(w http.ResponseWriter, s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		respondError(w, http.StatusBadRequest, "invalid address", s)
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: error, Message: message})
}

// respondErr maps an engine or transaction error to a status code.
func respondErr(w http.ResponseWriter, err error) {
	kind := dexerr.Kind(err)
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, transaction.ErrInvalidSignature):
		kind, status = "InvalidSignature", http.StatusUnauthorized
	case errors.Is(err, transaction.ErrUnknownType):
		kind = "UnknownType"
	case errors.Is(err, transaction.ErrMalformed):
		kind = "Malformed"
	case kind == "PairNotFound" || kind == "OrderNotFound" || kind == "InvalidToken":
		status = http.StatusNotFound
	case kind == "TransactionAlreadyProcessed":
		status = http.StatusConflict
	case kind == "Internal":
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: strings.ToLower(kind), Kind: kind, Message: err.Error()})
}
