package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/catalog"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

const maxBodyBytes = 64 << 10

type addItemRequest struct {
	URL string `json:"url"`
}

type setAlarmRequest struct {
	AlarmPrice *float64 `json:"alarm_price"`
}

type itemResponse struct {
	tracker.Item
	AlarmHit bool `json:"alarm_hit"`
}

func toResponse(item tracker.Item) itemResponse {
	if item.PriceHistory == nil {
		item.PriceHistory = []tracker.PricePoint{}
	}
	return itemResponse{Item: item, AlarmHit: item.AlarmHit()}
}

func (s *Server) addItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decodeJSON(w, r, &req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	item, err := s.service.Add(r.Context(), req.URL)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"item": toResponse(item)})
}

func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.List(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]itemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toResponse(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (s *Server) getItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": toResponse(item)})
}

func (s *Server) deleteItem(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setAlarm(w http.ResponseWriter, r *http.Request) {
	var req setAlarmRequest
	if err := decodeJSON(w, r, &req); err != nil || req.AlarmPrice == nil {
		writeError(w, http.StatusBadRequest, "alarm_price required")
		return
	}
	item, err := s.service.SetAlarm(r.Context(), chi.URLParam(r, "id"), *req.AlarmPrice)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": toResponse(item)})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeServiceError maps domain errors onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, catalog.ErrInvalidURL), errors.Is(err, catalog.ErrInvalidAlarm):
		status = http.StatusBadRequest
	case errors.Is(err, tracker.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, tracker.ErrDuplicateURL):
		status = http.StatusConflict
	case errors.Is(err, catalog.ErrNoPriceFound):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, catalog.ErrBlocked), errors.Is(err, catalog.ErrFetchFailed):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", RequestID(r.Context())),
			zap.Error(err),
		)
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	writeError(w, status, msg)
}
