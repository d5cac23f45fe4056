package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"giftpool/internal/model"
	"giftpool/internal/service"
)

type Handler struct {
	svc service.GiftService
}

func NewHandler(svc service.GiftService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /api/gift", h.SendGifts)
	mux.HandleFunc("GET /api/balance/{key}", h.KeyBalance)
	mux.Handle("GET /metrics", promhttp.Handler())
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) SendGifts(w http.ResponseWriter, r *http.Request) {
	var req model.GiftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	resp, err := h.svc.SendGifts(r.Context(), req)
	if err != nil {
		h.respondError(w, statusFor(err), err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) KeyBalance(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		h.respondError(w, http.StatusBadRequest, "missing_key")
		return
	}

	resp, err := h.svc.KeyBalance(r.Context(), key)
	if err != nil {
		h.respondError(w, statusFor(err), err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// statusFor maps the service precondition taxonomy onto transport statuses:
// unauthorized for bad keys, bad request for shape, not found for unknown
// items, payment required for short ledgers, internal for everything else.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidKey):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrItemCount):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUnknownItem):
		return http.StatusNotFound
	case errors.Is(err, service.ErrKeyBalance):
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
