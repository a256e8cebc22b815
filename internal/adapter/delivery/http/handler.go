package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httplog/v2"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/vadimbarashkov/shortly/internal/entity"
	"github.com/vadimbarashkov/shortly/internal/metrics"
	"github.com/vadimbarashkov/shortly/internal/usecase"
)

func handlePing(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "pong")
}

type urlUseCase interface {
	ShortenURL(ctx context.Context, params usecase.ShortenParams) (*usecase.ShortenResult, error)
	ResolveShortCode(ctx context.Context, shortCode string) (string, error)
	ListURLs(ctx context.Context) ([]*entity.URL, error)
	GetURLStats(ctx context.Context, shortCode string) (*entity.URL, error)
	DeleteURL(ctx context.Context, shortCode string) error
	GetAnalytics(ctx context.Context, timeRange string) (*entity.Analytics, error)
	Now() time.Time
}

type urlHandler struct {
	useCase     urlUseCase
	validate    *validator.Validate
	shortDomain string
	metrics     *metrics.Metrics
}

func newValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Registering a static validation func cannot fail.
	_ = validate.RegisterValidation("short_code", func(fl validator.FieldLevel) bool {
		return usecase.ValidateShortCode(fl.Field().String()) == nil
	})

	return validate
}

func newURLHandler(useCase urlUseCase, validate *validator.Validate, shortDomain string, m *metrics.Metrics) *urlHandler {
	return &urlHandler{
		useCase:     useCase,
		validate:    validate,
		shortDomain: shortDomain,
		metrics:     m,
	}
}

// baseURL is the prefix of short URLs: the request's own host when no short
// domain is configured, https://<short domain> otherwise.
// X-Forwarded-Proto is honoured only for http and https.
func (h *urlHandler) baseURL(r *http.Request) string {
	if h.shortDomain != "" {
		return "https://" + h.shortDomain
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	// Proxy chains may append: "https, http".
	proto, _, _ := strings.Cut(r.Header.Get("X-Forwarded-Proto"), ",")
	switch proto = strings.ToLower(strings.TrimSpace(proto)); proto {
	case "http", "https":
		scheme = proto
	}

	return scheme + "://" + r.Host
}

func (h *urlHandler) countShorten(result string) {
	if h.metrics != nil {
		h.metrics.Shortens.WithLabelValues(result).Inc()
	}
}

func (h *urlHandler) countRedirect(result string) {
	if h.metrics != nil {
		h.metrics.Redirects.WithLabelValues(result).Inc()
	}
}

func (h *urlHandler) shortenURL(w http.ResponseWriter, r *http.Request) {
	var req shortenRequest

	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.countShorten("invalid")

		if errors.Is(err, io.EOF) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, emptyRequestBodyResponse)
			return
		}

		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, invalidRequestBodyResponse)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.countShorten("invalid")

		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, validationErrorResponse(err))
		return
	}

	params := usecase.ShortenParams{
		OriginalURL:    req.OriginalURL,
		CustomCode:     req.CustomCode,
		ExpiresInHours: int(req.ExpiresIn),
		BaseURL:        h.baseURL(r),
	}

	res, err := h.useCase.ShortenURL(r.Context(), params)
	if err != nil {
		switch {
		case errors.Is(err, usecase.ErrInvalidURL):
			h.countShorten("invalid")
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, invalidURLResponse)
		case errors.Is(err, usecase.ErrInvalidShortCode):
			h.countShorten("invalid")
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, invalidShortCodeResponse)
		case errors.Is(err, usecase.ErrShortCodeTaken):
			h.countShorten("taken")
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, shortCodeTakenResponse)
		default:
			if errors.Is(err, usecase.ErrMaxRetriesExceeded) {
				h.countShorten("exhausted")
			} else {
				h.countShorten("error")
			}
			httplog.LogEntrySetField(r.Context(), "err", slog.AnyValue(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, serverErrorResponse)
		}
		return
	}

	h.countShorten("ok")

	resp := toURLResponse(res.URL, params.BaseURL, h.useCase.Now())
	resp.ShortURL = res.ShortURL

	render.Status(r, http.StatusOK)
	render.JSON(w, r, dataResponse(resp))
}

func (h *urlHandler) listURLs(w http.ResponseWriter, r *http.Request) {
	urls, err := h.useCase.ListURLs(r.Context())
	if err != nil {
		httplog.LogEntrySetField(r.Context(), "err", slog.AnyValue(err))

		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, serverErrorResponse)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, dataResponse(toURLResponses(urls, h.baseURL(r), h.useCase.Now())))
}

func (h *urlHandler) getURLStats(w http.ResponseWriter, r *http.Request) {
	shortCode := chi.URLParam(r, "shortCode")

	url, err := h.useCase.GetURLStats(r.Context(), shortCode)
	if err != nil {
		if errors.Is(err, entity.ErrURLNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, urlNotFoundResponse)
			return
		}

		httplog.LogEntrySetField(r.Context(), "err", slog.AnyValue(err))

		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, serverErrorResponse)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, dataResponse(toURLResponse(url, h.baseURL(r), h.useCase.Now())))
}

func (h *urlHandler) deleteURL(w http.ResponseWriter, r *http.Request) {
	shortCode := chi.URLParam(r, "shortCode")

	err := h.useCase.DeleteURL(r.Context(), shortCode)
	if err != nil {
		if errors.Is(err, entity.ErrURLNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, urlNotFoundResponse)
			return
		}

		httplog.LogEntrySetField(r.Context(), "err", slog.AnyValue(err))

		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, serverErrorResponse)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, messageResponse("url deleted"))
}

func (h *urlHandler) getAnalytics(w http.ResponseWriter, r *http.Request) {
	analytics, err := h.useCase.GetAnalytics(r.Context(), r.URL.Query().Get("timeRange"))
	if err != nil {
		httplog.LogEntrySetField(r.Context(), "err", slog.AnyValue(err))

		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, serverErrorResponse)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, dataResponse(toAnalyticsResponse(analytics, h.baseURL(r), h.useCase.Now())))
}

func (h *urlHandler) redirect(w http.ResponseWriter, r *http.Request) {
	shortCode := chi.URLParam(r, "shortCode")

	originalURL, err := h.useCase.ResolveShortCode(r.Context(), shortCode)
	if err != nil {
		if errors.Is(err, entity.ErrURLNotFound) {
			h.countRedirect("not_found")

			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, urlNotFoundResponse)
			return
		}

		h.countRedirect("error")
		httplog.LogEntrySetField(r.Context(), "err", slog.AnyValue(err))

		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, serverErrorResponse)
		return
	}

	h.countRedirect("found")

	http.Redirect(w, r, originalURL, http.StatusFound)
}
