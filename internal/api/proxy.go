package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"gwi.com/research-chat/internal/backend"
	"gwi.com/research-chat/internal/core"
)

const maxProxyBody = 10 << 20

// OpenRouterHandler exposes the aggregator call contract to the browser.
func (h *APIHandler) OpenRouterHandler(w http.ResponseWriter, r *http.Request) {
	var req core.AggregatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	if req.UserQuery == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing required fields"})
		return
	}

	content, err := h.aggregator.Complete(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"content": content, "success": true})
	case errors.Is(err, core.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, core.ErrTimeout):
		writeJSON(w, http.StatusRequestTimeout, map[string]string{"error": "Request timed out. Please try again."})
	default:
		log.Printf("Aggregator %s call failed for %s: %v", req.Type, UserEmail(r.Context()), err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func (h *APIHandler) BackendsHealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.backend.CheckAllHealth(r.Context()))
}

// proxy returns a handler that forwards the request body and query string to a backend
// endpoint and relays the answer unchanged.
func (h *APIHandler) proxy(svc backend.Service, path, failure string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body io.Reader
		if r.Body != nil && r.Method != http.MethodGet {
			body = io.LimitReader(r.Body, maxProxyBody)
		}

		resp, err := h.backend.Forward(r.Context(), svc, r.Method, path, r.URL.Query(), body, r.Header.Get("Content-Type"))
		if err != nil {
			log.Printf("%s server proxy %s failed: %v", svc, path, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": failure})
			return
		}
		defer resp.Body.Close()

		if ct := resp.Header.Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, resp.Body); err != nil {
			log.Printf("Error relaying %s server response: %v", svc, err)
		}
	}
}
