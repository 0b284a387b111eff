// Package subscribe реализует HTTP-обработчик подписки по звонку.
//
// Handler принимает JSON-запрос от IVR-шлюза с номером телефона и типом
// пакета, валидирует их и регистрирует подписку через сервис call-in.
// Повторный звонок при открытой подписке идемпотентен.
package subscribe

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
	lifecycleservice "github.com/magabrotheeeer/mch-subscription-engine/internal/services/lifecycle"
)

// Request — тело запроса подписки по звонку.
type Request struct {
	MSISDN   string  `json:"msisdn" validate:"required"`
	Pack     string  `json:"pack" validate:"required,oneof=pregnancy child"`
	Language *string `json:"language,omitempty"`
	Circle   *string `json:"circle,omitempty"`
}

// Service описывает интерфейс бизнес-логики подписки по звонку.
type Service interface {
	Subscribe(ctx context.Context, msisdn int64, pack models.PackType, language, circle *string) (*models.Subscription, error)
}

// Handler управляет HTTP-запросами на подписку по звонку.
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
	const op = "handlers.callin.subscribe"
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

	sub, err := h.service.Subscribe(r.Context(), msisdn, models.PackType(req.Pack), req.Language, req.Circle)
	if err != nil {
		switch {
		case errors.Is(err, callinservice.ErrUnknownPack):
			log.Error("unknown pack", slog.String("pack", req.Pack))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error("unknown pack"))
		case errors.Is(err, lifecycleservice.ErrPackWindowElapsed):
			log.Info("pack window elapsed", slog.Int64("msisdn", msisdn))
			w.WriteHeader(http.StatusConflict)
			render.JSON(w, r, response.Error("subscription window elapsed"))
		default:
			log.Error("failed to subscribe", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error("could not subscribe"))
		}
		return
	}

	if sub == nil {
		log.Info("already subscribed", slog.Int64("msisdn", msisdn))
		render.JSON(w, r, response.OKWithData(map[string]any{
			"result": "already_subscribed",
		}))
		return
	}

	log.Info("subscription created", slog.Int64("id", sub.ID))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"subscription_id": sub.ID,
		"status":          sub.Status,
		"start_date":      sub.StartDate.Format("2006-01-02"),
	}))
}
