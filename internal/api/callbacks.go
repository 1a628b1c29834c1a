/**
 * @description
 * Gateway-invoked callback endpoints. These carry no auth: the provider posts
 * settlement results here. The contract with the provider is to acknowledge
 * with 200 in every case, including unknown references, replays and internal
 * failures, so it neither drops important callbacks nor retry-storms on a
 * transient fault of ours. Only a payload we cannot parse at all gets a 400.
 * The body reports {status: success|failed|error}.
 */

package api

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/pesabank/banking-service/internal/app"
	"github.com/pesabank/banking-service/internal/domain"
)

// maxCallbackBodyBytes bounds how much we read from the gateway.
const maxCallbackBodyBytes = 1 << 20

// CollectionCallbackHandler processes STK push results for pending deposits.
func (h *BankHandlers) CollectionCallbackHandler(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Could not read request body")
		return
	}

	outcome, err := h.service.ReconcileCollectionCallback(r.Context(), payload)
	if err != nil {
		if errors.Is(err, app.ErrMalformedCallback) {
			log.Printf("level=warn component=api endpoint=collection_callback outcome=reject reason=unparsable err=%v", err)
			h.writeError(w, http.StatusBadRequest, "Invalid callback payload")
			return
		}
		// Internal failure: the row stays pending, acknowledge anyway.
		log.Printf("level=error component=api endpoint=collection_callback outcome=error err=%v", err)
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "error"})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": callbackStatus(outcome)})
}

// DisbursementCallbackHandler processes B2C results for pending withdrawals.
func (h *BankHandlers) DisbursementCallbackHandler(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Could not read request body")
		return
	}

	outcome, err := h.service.ReconcileDisbursementCallback(r.Context(), payload)
	if err != nil {
		if errors.Is(err, app.ErrMalformedCallback) {
			log.Printf("level=warn component=api endpoint=disbursement_callback outcome=reject reason=unparsable err=%v", err)
			h.writeError(w, http.StatusBadRequest, "Invalid callback payload")
			return
		}
		log.Printf("level=error component=api endpoint=disbursement_callback outcome=error err=%v", err)
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "error"})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": callbackStatus(outcome)})
}

// callbackStatus maps a reconcile outcome onto the acknowledgement body.
// Failed settlements report "failed"; everything else, including unknown
// references and replays, is a "success" acknowledgement.
func callbackStatus(outcome *domain.ReconcileOutcome) string {
	if outcome.Status == domain.StatusFailed {
		return "failed"
	}
	return "success"
}

// DisbursementTimeoutHandler acknowledges queue-timeout notifications. The
// transaction stays pending until the provider delivers a final result.
func (h *BankHandlers) DisbursementTimeoutHandler(w http.ResponseWriter, r *http.Request) {
	log.Printf("level=warn component=api endpoint=disbursement_timeout msg=\"gateway reported queue timeout\"")
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}
