package core

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easyash/trustedby/internal/types"
)

func newRequest(t *testing.T, method, path, body string) *http.Request {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	return r.WithContext(types.WithRequestID(r.Context(), "req_test"))
}

func TestJSONWritesEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	r := newRequest(t, http.MethodGet, "/v1/access", "")

	JSON(w, r, http.StatusOK, APIResponse{Data: map[string]string{"status": "ok"}})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"data":{"status":"ok"}}`, w.Body.String())
}

func TestErrorWritesAppErrorStatusAndBody(t *testing.T) {
	w := httptest.NewRecorder()
	r := newRequest(t, http.MethodPost, "/v1/billing/subscription", "")

	Error(w, r, types.NewAppErrorWithDetails(
		types.ErrCodeValidationInvalidPlan,
		"unsupported plan parameters",
		nil,
		map[string]any{"currency": "EUR"},
	))

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp APIErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "validation_invalid_plan", resp.Error.Code)
	assert.Equal(t, "req_test", resp.Error.RequestID)
	assert.Equal(t, "EUR", resp.Error.Details["currency"])
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		code types.ErrorCode
		want int
	}{
		{types.ErrCodeAuthSignatureInvalid, http.StatusBadRequest},
		{types.ErrCodeAuthUnauthorized, http.StatusUnauthorized},
		{types.ErrCodeNotFoundSubscription, http.StatusNotFound},
		{types.ErrCodeConflictProviderSwitch, http.StatusConflict},
		{types.ErrCodeConflictConcurrentModification, http.StatusConflict},
		{types.ErrCodeRateLimited, http.StatusTooManyRequests},
		{types.ErrCodeUpstreamProviderRejected, http.StatusBadGateway},
		{types.ErrCodeUpstreamProviderUnavailable, http.StatusServiceUnavailable},
		{types.ErrCodeBillingCancellationFailed, http.StatusBadGateway},
		{types.ErrCodeInternalDatabaseError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		r := newRequest(t, http.MethodGet, "/", "")
		Error(w, r, types.NewAppError(tc.code, "boom", nil))
		assert.Equal(t, tc.want, w.Code, string(tc.code))
	}
}

func TestErrorHidesGenericErrorDetails(t *testing.T) {
	w := httptest.NewRecorder()
	r := newRequest(t, http.MethodGet, "/", "")

	Error(w, r, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "password")
	assert.Contains(t, w.Body.String(), "internal_error")
}

func TestDecodeJSONStrictness(t *testing.T) {
	type payload struct {
		Currency string `json:"currency"`
	}

	cases := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"malformed", `{"currency": `},
		{"unknown field", `{"currency":"USD","extra":1}`},
		{"trailing value", `{"currency":"USD"}{"currency":"INR"}`},
		{"wrong type", `{"currency":12}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := newRequest(t, http.MethodPost, "/", tc.body)

			var dst payload
			err := DecodeJSON(w, r, &dst)

			var appErr *types.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, types.ErrCodeValidationFailed, appErr.Code)
		})
	}
}

func TestDecodeJSONSuccess(t *testing.T) {
	type payload struct {
		Currency string `json:"currency"`
		Period   string `json:"billing_period"`
	}

	w := httptest.NewRecorder()
	r := newRequest(t, http.MethodPost, "/", `{"currency":"USD","billing_period":"monthly"}`)

	var dst payload
	require.NoError(t, DecodeJSON(w, r, &dst))
	assert.Equal(t, "USD", dst.Currency)
	assert.Equal(t, "monthly", dst.Period)
}

func TestValidateStruct(t *testing.T) {
	v := NewValidator()

	type req struct {
		Currency string `validate:"required,oneof=USD INR"`
		Name     string `validate:"omitempty,max=64"`
	}

	require.NoError(t, v.ValidateStruct(req{Currency: "USD"}))

	err := v.ValidateStruct(req{})
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationMissingField, appErr.Code)
	assert.Equal(t, "Currency", appErr.Details["field"])

	err = v.ValidateStruct(req{Currency: "EUR"})
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationFailed, appErr.Code)
	assert.Equal(t, "oneof", appErr.Details["rule"])
}
