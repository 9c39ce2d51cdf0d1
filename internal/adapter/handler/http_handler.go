package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rl1809/nft-marketplace/internal/core/domain"
	"github.com/rl1809/nft-marketplace/internal/core/service"
)

type HTTPHandler struct {
	marketplace *service.MarketplaceService
}

type CreateListingHTTPRequest struct {
	Caller     string `json:"caller"`
	Collection string `json:"collection"`
	TokenID    string `json:"token_id"`
	Price      int64  `json:"price"`
}

type UpdateListingHTTPRequest struct {
	Caller string `json:"caller"`
	Price  int64  `json:"price"`
}

type CancelListingHTTPRequest struct {
	Caller string `json:"caller"`
}

type BuyItemHTTPRequest struct {
	Caller  string `json:"caller"`
	Payment int64  `json:"payment"`
}

type HTTPResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type ListingView struct {
	Collection string `json:"collection"`
	TokenID    string `json:"token_id"`
	Price      int64  `json:"price"`
	Seller     string `json:"seller"`
}

type EventView struct {
	Seq        uint64    `json:"seq"`
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Collection string    `json:"collection"`
	TokenID    string    `json:"token_id"`
	Price      int64     `json:"price"`
	Seller     string    `json:"seller"`
	Buyer      string    `json:"buyer,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func NewHTTPHandler(marketplace *service.MarketplaceService) *HTTPHandler {
	return &HTTPHandler{marketplace: marketplace}
}

func NewRouter(h *HTTPHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)
	r.Route("/api", func(r chi.Router) {
		r.Get("/events", h.ListEvents)
		r.Post("/listings", h.CreateListing)
		r.Route("/listings/{collection}/{token}", func(r chi.Router) {
			r.Get("/", h.GetListing)
			r.Put("/", h.UpdateListing)
			r.Delete("/", h.CancelListing)
			r.Post("/purchase", h.BuyItem)
		})
	})
	return r
}

func (h *HTTPHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	var req CreateListingHTTPRequest
	if !decodeBody(w, r, &req) {
		return
	}

	key := domain.ItemKey{Collection: req.Collection, TokenID: req.TokenID}
	event, err := h.marketplace.CreateListing(r.Context(), key, req.Price, req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, HTTPResponse{
		Success: true,
		Message: "listing created",
		Data:    toEventView(event),
	})
}

func (h *HTTPHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	key := itemKeyFromPath(r)
	listing, err := h.marketplace.GetListing(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, HTTPResponse{
		Success: true,
		Message: "listed",
		Data: ListingView{
			Collection: key.Collection,
			TokenID:    key.TokenID,
			Price:      listing.Price,
			Seller:     listing.Seller,
		},
	})
}

func (h *HTTPHandler) UpdateListing(w http.ResponseWriter, r *http.Request) {
	var req UpdateListingHTTPRequest
	if !decodeBody(w, r, &req) {
		return
	}

	event, err := h.marketplace.UpdateListing(r.Context(), itemKeyFromPath(r), req.Price, req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, HTTPResponse{
		Success: true,
		Message: "listing updated",
		Data:    toEventView(event),
	})
}

func (h *HTTPHandler) CancelListing(w http.ResponseWriter, r *http.Request) {
	var req CancelListingHTTPRequest
	if !decodeBody(w, r, &req) {
		return
	}

	event, err := h.marketplace.CancelListing(r.Context(), itemKeyFromPath(r), req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, HTTPResponse{
		Success: true,
		Message: "listing cancelled",
		Data:    toEventView(event),
	})
}

func (h *HTTPHandler) BuyItem(w http.ResponseWriter, r *http.Request) {
	var req BuyItemHTTPRequest
	if !decodeBody(w, r, &req) {
		return
	}

	event, err := h.marketplace.BuyItem(r.Context(), itemKeyFromPath(r), req.Caller, req.Payment)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, HTTPResponse{
		Success: true,
		Message: "item purchased",
		Data:    toEventView(event),
	})
}

func (h *HTTPHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	var after uint64
	if raw := r.URL.Query().Get("after"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, HTTPResponse{Success: false, Message: "invalid after", Code: "invalid_input"})
			return
		}
		after = v
	}
	var limit int
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeJSON(w, http.StatusBadRequest, HTTPResponse{Success: false, Message: "invalid limit", Code: "invalid_input"})
			return
		}
		limit = v
	}

	events, err := h.marketplace.Events(r.Context(), after, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]EventView, 0, len(events))
	for _, e := range events {
		views = append(views, toEventView(e))
	}
	writeJSON(w, http.StatusOK, HTTPResponse{Success: true, Message: "ok", Data: views})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func itemKeyFromPath(r *http.Request) domain.ItemKey {
	return domain.ItemKey{
		Collection: chi.URLParam(r, "collection"),
		TokenID:    chi.URLParam(r, "token"),
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, HTTPResponse{
			Success: false,
			Message: "invalid request body",
			Code:    "invalid_input",
		})
		return false
	}
	return true
}

func toEventView(e domain.Event) EventView {
	return EventView{
		Seq:        e.Seq,
		ID:         e.ID,
		Kind:       string(e.Kind),
		Collection: e.Key.Collection,
		TokenID:    e.Key.TokenID,
		Price:      e.Price,
		Seller:     e.Seller,
		Buyer:      e.Buyer,
		OccurredAt: e.OccurredAt,
	}
}

type errorMapping struct {
	err    error
	status int
	code   string
}

var httpErrors = []errorMapping{
	{domain.ErrNotListed, http.StatusNotFound, "not_listed"},
	{domain.ErrAlreadyListed, http.StatusConflict, "already_listed"},
	{domain.ErrNotOwner, http.StatusForbidden, "not_owner"},
	{domain.ErrInsufficientAuthorization, http.StatusForbidden, "insufficient_authorization"},
	{domain.ErrInvalidPrice, http.StatusBadRequest, "invalid_price"},
	{domain.ErrIncorrectPayment, http.StatusBadRequest, "incorrect_payment"},
	{domain.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{domain.ErrTransferFailed, http.StatusBadGateway, "transfer_failed"},
	{domain.ErrFundsTransferFailed, http.StatusBadGateway, "funds_transfer_failed"},
	{domain.ErrLockTimeout, http.StatusServiceUnavailable, "busy"},
}

func writeError(w http.ResponseWriter, err error) {
	for _, m := range httpErrors {
		if errors.Is(err, m.err) {
			writeJSON(w, m.status, HTTPResponse{Success: false, Message: m.err.Error(), Code: m.code})
			return
		}
	}
	writeJSON(w, http.StatusInternalServerError, HTTPResponse{
		Success: false,
		Message: "internal error",
		Code:    "internal",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
