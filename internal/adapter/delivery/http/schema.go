package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/vadimbarashkov/shortly/internal/entity"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// shortenRequest represents the structure for a request to shorten a URL.
type shortenRequest struct {
	OriginalURL string `json:"url" validate:"required,http_url"`
	CustomCode  string `json:"customCode" validate:"omitempty,short_code"`
	// ExpiresIn is a lifetime in hours. Values outside 1..8760 mean no expiry.
	ExpiresIn expiryHours `json:"expiresIn"`
}

// expiryHours accepts a whole number of hours given either as a JSON number
// or as a numeric string, as sent by HTML form inputs. Anything else, including
// "", null and fractional numbers, decodes to 0, which means no expiry.
type expiryHours int

func (e *expiryHours) UnmarshalJSON(data []byte) error {
	*e = 0

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}

	var raw string
	switch v := v.(type) {
	case json.Number:
		raw = v.String()
	case string:
		raw = strings.TrimSpace(v)
	default:
		return nil
	}

	if n, err := strconv.Atoi(raw); err == nil {
		*e = expiryHours(n)
	}

	return nil
}

// urlResponse is the public view of a URL record with its derived fields.
type urlResponse struct {
	ID          int64      `json:"id"`
	OriginalURL string     `json:"original_url"`
	ShortCode   string     `json:"short_code"`
	ShortURL    string     `json:"short_url"`
	Clicks      int64      `json:"clicks"`
	IsExpired   bool       `json:"is_expired"`
	ExpiresAt   *time.Time `json:"expires_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toURLResponse(url *entity.URL, baseURL string, now time.Time) urlResponse {
	return urlResponse{
		ID:          url.ID,
		OriginalURL: url.OriginalURL,
		ShortCode:   url.ShortCode,
		ShortURL:    url.ShortURL(baseURL),
		Clicks:      url.Clicks,
		IsExpired:   url.IsExpired(now),
		ExpiresAt:   url.ExpiresAt,
		CreatedAt:   url.CreatedAt,
	}
}

func toURLResponses(urls []*entity.URL, baseURL string, now time.Time) []urlResponse {
	resp := make([]urlResponse, 0, len(urls))
	for _, url := range urls {
		resp = append(resp, toURLResponse(url, baseURL, now))
	}
	return resp
}

type analyticsOverview struct {
	TotalURLs   int64   `json:"total_urls"`
	TotalClicks int64   `json:"total_clicks"`
	AvgClicks   float64 `json:"avg_clicks"`
}

type clicksPoint struct {
	Date   string `json:"date"`
	Clicks int64  `json:"clicks"`
}

type analyticsResponse struct {
	Since          time.Time         `json:"since"`
	Overview       analyticsOverview `json:"overview"`
	TopURLs        []urlResponse     `json:"top_urls"`
	ClicksOverTime []clicksPoint     `json:"clicks_over_time"`
}

func toAnalyticsResponse(a *entity.Analytics, baseURL string, now time.Time) analyticsResponse {
	return analyticsResponse{
		Since: a.Since,
		Overview: analyticsOverview{
			TotalURLs:   a.Stats.TotalURLs,
			TotalClicks: a.Stats.TotalClicks,
			AvgClicks:   a.Stats.AvgClicks,
		},
		TopURLs:        toURLResponses(a.TopURLs, baseURL, now),
		ClicksOverTime: toClicksPoints(a.ClicksOverTime),
	}
}

func toClicksPoints(points []entity.ClicksPoint) []clicksPoint {
	resp := make([]clicksPoint, 0, len(points))
	for _, p := range points {
		resp = append(resp, clicksPoint{Date: p.Period, Clicks: p.Clicks})
	}
	return resp
}

// successResponse wraps either data or a message.
type successResponse struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func dataResponse(data any) successResponse {
	return successResponse{Status: statusSuccess, Data: data}
}

func messageResponse(msg string) successResponse {
	return successResponse{Status: statusSuccess, Message: msg}
}

// validationError represents an individual validation error.
type validationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// errorResponse represents a structured error response.
type errorResponse struct {
	Status  string            `json:"status"`
	Message string            `json:"message"`
	Errors  []validationError `json:"errors,omitempty"`
}

// Predefined error responses for common scenarios.
var (
	emptyRequestBodyResponse = errorResponse{
		Status:  statusError,
		Message: "empty request body",
	}

	invalidRequestBodyResponse = errorResponse{
		Status:  statusError,
		Message: "invalid request body",
	}

	invalidURLResponse = errorResponse{
		Status:  statusError,
		Message: "invalid url: an absolute http or https url is required",
	}

	invalidShortCodeResponse = errorResponse{
		Status:  statusError,
		Message: "invalid custom code: use 3 to 20 letters, digits, '_' or '-'",
	}

	shortCodeTakenResponse = errorResponse{
		Status:  statusError,
		Message: "custom code already taken",
	}

	urlNotFoundResponse = errorResponse{
		Status:  statusError,
		Message: "url not found",
	}

	serverErrorResponse = errorResponse{
		Status:  statusError,
		Message: "server error occurred",
	}
)

// messageForTag returns a user-friendly message based on the validation tag.
func messageForTag(tag string) string {
	switch tag {
	case "required":
		return "this field is required"
	case "http_url":
		return "must be an absolute http or https url"
	case "short_code":
		return "must be 3 to 20 letters, digits, '_' or '-' and not a reserved word"
	default:
		return "invalid value"
	}
}

// getValidationErrors processes validation errors and returns a list of validationError.
func getValidationErrors(err error) []validationError {
	var validationErrs []validationError

	var errs validator.ValidationErrors
	if errors.As(err, &errs) {
		for _, e := range errs {
			validationErrs = append(validationErrs, validationError{
				Field:   e.Field(),
				Message: messageForTag(e.Tag()),
			})
		}
	}

	return validationErrs
}

// validationErrorResponse constructs an errorResponse for validation errors.
func validationErrorResponse(err error) errorResponse {
	return errorResponse{
		Status:  statusError,
		Message: "validation error",
		Errors:  getValidationErrors(err),
	}
}
