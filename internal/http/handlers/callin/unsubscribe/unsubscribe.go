// Package unsubscribe реализует HTTP-обработчик отписки по звонку.
package unsubscribe

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/mch-subscription-engine/internal/http/response"
	"github.com/magabrotheeeer/mch-subscription-engine/internal/lib/sl"
	"github.com/magabrotheeeer/mch-subscription-engine/internal/models"
	"github.com/magabrotheeeer/mch-subscription-engine/internal/normalize"
	callinservice "github.com/magabrotheeeer/mch-subscription-engine/internal/services/callin"
)

// Request — тело запроса отписки по звонку.
type Request struct {
	MSISDN string `json:"msisdn" validate:"required"`
	Pack   string `json:"pack" validate:"required,oneof=pregnancy child"`
}

// Service описывает интерфейс бизнес-логики отписки по звонку.
type Service interface {
	Unsubscribe(ctx context.Context, msisdn int64, pack models.PackType) error
}

// Handler управляет HTTP-запросами на отписку по звонку.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.callin.unsubscribe"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	msisdn, err := normalize.ParseMSISDN(req.MSISDN)
	if err != nil {
		log.Error("invalid msisdn", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.Error("invalid msisdn"))
		return
	}

	if err := h.service.Unsubscribe(r.Context(), msisdn, models.PackType(req.Pack)); err != nil {
		switch {
		case errors.Is(err, callinservice.ErrUnknownPack):
			log.Error("unknown pack", slog.String("pack", req.Pack))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error("unknown pack"))
		case errors.Is(err, callinservice.ErrSubscriberNotFound):
			log.Info("subscriber not found", slog.Int64("msisdn", msisdn))
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("subscriber not found"))
		default:
			log.Error("failed to unsubscribe", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error("could not unsubscribe"))
		}
		return
	}

	log.Info("unsubscribed", slog.Int64("msisdn", msisdn))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"result": "unsubscribed",
	}))
}
