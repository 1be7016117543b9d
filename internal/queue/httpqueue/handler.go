package httpqueue

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/sagaworks/saga-engine/internal/queue"
	"github.com/sagaworks/saga-engine/internal/telemetry"
)

// Handler returns an http.HandlerFunc that verifies the HMAC signature on
// incoming requests, decodes the job, and hands it to process. Intended to
// be mounted at the engine-service's /internal/segment route.
func Handler(secret []byte, log telemetry.Logger, process queue.Handler) http.HandlerFunc {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "cannot read body", http.StatusBadRequest)
			return
		}
		if !Verify(secret, body, r.Header.Get(signatureHeader)) {
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}

		var job queue.Job
		if err := json.Unmarshal(body, &job); err != nil {
			http.Error(w, "invalid job payload", http.StatusBadRequest)
			return
		}

		if err := process(r.Context(), job); err != nil {
			log.Error(r.Context(), "httpqueue: segment processing failed", "execution_id", job.ExecutionID, "error", err.Error())
			http.Error(w, "processing failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}
