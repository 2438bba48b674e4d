// Package jsonrpc serves the HTTP control channel advertised in the init
// meta-message's commandInterfaces (§4.F): POST /streaming_jsonrpc with
// methods "<streamId>.subscribe" and "<streamId>.unsubscribe", each
// taking an array of signal IDs.
//
// Grounded on streaming_jsonrpc.c's rpc_cb_subscribe/rpc_cb_unsubscribe
// (loop over every array element, fail the whole call on the first
// signal that can't be (un)subscribed) and streaming_jsonrpc_callback's
// HTTP wiring. The pack carries no JSON-RPC library, so the thin
// request/response envelope uses encoding/json directly (see DESIGN.md);
// request throttling is wired to golang.org/x/time/rate, matching the
// teacher's use of a token-bucket limiter ahead of its handlers.
package jsonrpc

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/opendaq/streaming-endpoint/internal/metrics"
	"github.com/opendaq/streaming-endpoint/internal/registry"
)

// Path is the fixed HTTP path the original advertises as JSONRPC_PATH.
const Path = "/streaming_jsonrpc"

const (
	errInvalidParams = -32602
	errParseError    = -32700
	errMethodUnknown = -32601
)

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

type response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Registry is the subset of *registry.Registry the handler needs.
type Registry interface {
	Subscribe(streamID, signalID string) error
	Unsubscribe(streamID, signalID string) error
	SubscribedCount() int
}

// Handler serves the control channel for one stream. StreamID namespaces
// the exported methods, matching streaming_jsonrpc_init's per-stream
// method names.
type Handler struct {
	StreamID string
	Registry Registry
	Limiter  *rate.Limiter
	MaxBody  int64

	log zerolog.Logger
}

// NewHandler returns a Handler for streamID. limiter may be nil to
// disable throttling; maxBody bounds the request body size (the original
// clamps reads to JSONRPC_BUF_SIZE).
func NewHandler(streamID string, reg Registry, limiter *rate.Limiter, maxBody int64, logger zerolog.Logger) *Handler {
	return &Handler{
		StreamID: streamID,
		Registry: reg,
		Limiter:  limiter,
		MaxBody:  maxBody,
		log:      logger.With().Str("component", "jsonrpc").Logger(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Limiter != nil && !h.Limiter.Allow() {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.MaxBody))
	if err != nil {
		h.log.Warn().Err(err).Msg("reading jsonrpc request body")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeError(w, nil, errParseError, "Parse error")
		return
	}

	var signalIDs []string
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &signalIDs); err != nil {
			h.writeError(w, req.ID, errInvalidParams, "Invalid params")
			return
		}
	}

	switch req.Method {
	case h.StreamID + ".subscribe":
		h.handleEach(w, req.ID, signalIDs, h.Registry.Subscribe)
	case h.StreamID + ".unsubscribe":
		h.handleEach(w, req.ID, signalIDs, h.Registry.Unsubscribe)
	default:
		h.writeError(w, req.ID, errMethodUnknown, "Method not found")
	}
}

// handleEach mirrors the original's loop over every signal id in
// params, failing the whole call on the first one that errors.
func (h *Handler) handleEach(w http.ResponseWriter, id json.RawMessage, signalIDs []string, apply func(streamID, signalID string) error) {
	for _, signalID := range signalIDs {
		if err := apply(h.StreamID, signalID); err != nil {
			h.log.Debug().Err(err).Str("signal", signalID).Msg("jsonrpc call failed")
			h.writeError(w, id, errInvalidParams, "Invalid params")
			return
		}
	}
	metrics.SetSignalsSubscribed(h.Registry.SubscribedCount())
	h.writeResult(w, id, true)
}

func (h *Handler) writeResult(w http.ResponseWriter, id json.RawMessage, result interface{}) {
	h.writeJSON(w, response{JSONRPC: "2.0", Result: result, ID: id})
}

func (h *Handler) writeError(w http.ResponseWriter, id json.RawMessage, code int, msg string) {
	metrics.RecordJSONRPCError(code)
	h.writeJSON(w, response{JSONRPC: "2.0", Error: &rpcError{Code: code, Message: msg}, ID: id})
}

func (h *Handler) writeJSON(w http.ResponseWriter, resp response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error().Err(err).Msg("writing jsonrpc response")
	}
}

// SubscribeMethod and UnsubscribeMethod return the fully namespaced
// method names for streamID, as advertised nowhere on the wire but
// needed by tests and by any client-side documentation generator.
func SubscribeMethod(streamID string) string   { return fmt.Sprintf("%s.subscribe", streamID) }
func UnsubscribeMethod(streamID string) string { return fmt.Sprintf("%s.unsubscribe", streamID) }
