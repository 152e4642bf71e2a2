// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
)

// maxTransactionBodySize bounds a single homeserver transaction push (10 MB).
const maxTransactionBodySize = 10 << 20

// TransactionStore is the deduplication contract for inbound appservice
// transactions. The homeserver delivers at least once; the store makes
// processing exactly once.
type TransactionStore interface {
	AlreadyProcessed(ctx context.Context, txnID string) (bool, error)
	Record(ctx context.Context, txnID string) error
}

// EventDispatcher routes the events of an accepted transaction. The
// registry implements it.
type EventDispatcher interface {
	DispatchMatrixEvent(ctx context.Context, evt *event.Event) error
}

// AppService is the inbound half of the bridge: it receives transaction
// pushes from the homeserver, deduplicates them durably, and hands accepted
// events to the dispatcher.
//
// Deduplication policy is process-then-record: the transaction id is
// recorded only after every event dispatched cleanly, so a crash mid-way
// causes a redelivery, never a silent loss. Dispatch must therefore
// tolerate replays.
type AppService struct {
	registration *Registration
	txns         TransactionStore
	dispatcher   EventDispatcher
	log          zerolog.Logger
}

func NewAppService(registration *Registration, txns TransactionStore, dispatcher EventDispatcher, log zerolog.Logger) *AppService {
	return &AppService{
		registration: registration,
		txns:         txns,
		dispatcher:   dispatcher,
		log:          log.With().Str("component", "appservice").Logger(),
	}
}

// Handler returns the HTTP handler for the appservice intake endpoints.
// Both the v1 route and the legacy unprefixed route are served; older
// homeservers still use the latter.
func (a *AppService) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /_matrix/app/v1/transactions/{txnID}", a.handleTransaction)
	mux.HandleFunc("PUT /transactions/{txnID}", a.handleTransaction)
	return mux
}

func (a *AppService) handleTransaction(w http.ResponseWriter, r *http.Request) {
	if !a.authorized(r) {
		a.log.Warn().Str("remote_addr", r.RemoteAddr).Msg("Transaction with bad homeserver token")
		writeMatrixError(w, http.StatusForbidden, "M_FORBIDDEN", "Bad homeserver token")
		return
	}

	txnID := r.PathValue("txnID")
	if txnID == "" {
		writeMatrixError(w, http.StatusBadRequest, "M_NOT_JSON", "Missing transaction id")
		return
	}

	ctx := r.Context()
	log := a.log.With().Str("txn_id", txnID).Logger()

	processed, err := a.txns.AlreadyProcessed(ctx, txnID)
	if err != nil {
		// Fail closed: without the store there is no idempotency guarantee.
		log.Error().Err(err).Msg("Cannot consult transaction store")
		writeMatrixError(w, http.StatusInternalServerError, "M_UNKNOWN", "Transaction store unavailable")
		return
	}
	if processed {
		log.Debug().Msg("Duplicate transaction, acknowledging without processing")
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxTransactionBodySize)
	var txn struct {
		Events []*event.Event `json:"events"`
	}
	if err := json.NewDecoder(r.Body).Decode(&txn); err != nil {
		log.Warn().Err(err).Msg("Malformed transaction body")
		writeMatrixError(w, http.StatusBadRequest, "M_NOT_JSON", "Malformed transaction body")
		return
	}

	for _, evt := range txn.Events {
		if evt == nil {
			continue
		}
		// Unknown event types keep their raw content; dispatch skips them.
		_ = evt.Content.ParseRaw(evt.Type)
		if err := a.dispatcher.DispatchMatrixEvent(ctx, evt); err != nil {
			log.Error().Err(err).Str("event_type", evt.Type.String()).Msg("Event dispatch failed, transaction will be retried")
			writeMatrixError(w, http.StatusInternalServerError, "M_UNKNOWN", "Event dispatch failed")
			return
		}
	}

	if err := a.txns.Record(ctx, txnID); err != nil {
		log.Error().Err(err).Msg("Cannot record transaction, homeserver will redeliver")
		writeMatrixError(w, http.StatusInternalServerError, "M_UNKNOWN", "Transaction store unavailable")
		return
	}

	log.Debug().Int("events", len(txn.Events)).Msg("Transaction processed")
	writeJSON(w, http.StatusOK, struct{}{})
}

// authorized checks the homeserver token from either the Authorization
// header or the legacy access_token query parameter.
func (a *AppService) authorized(r *http.Request) bool {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" || token == r.Header.Get("Authorization") {
		token = r.URL.Query().Get("access_token")
	}
	return token != "" && token == a.registration.HSToken
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeMatrixError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"errcode": code,
		"error":   message,
	})
}
