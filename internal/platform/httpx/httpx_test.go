package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRespondErrorMapsSentinels(t *testing.T) {
	domainErr := errors.New("pricing: product not found")
	cases := []struct {
		name   string
		err    error
		status int
		detail string
	}{
		{"marked not found", Mark(ErrNotFound, fmt.Errorf("load: %w", domainErr)), http.StatusNotFound, "load: pricing: product not found"},
		{"validation", Mark(ErrValidation, errors.New("unit_price must be positive")), http.StatusBadRequest, "unit_price must be positive"},
		{"wrapped sentinel", fmt.Errorf("x: %w", ErrDuplicate), http.StatusConflict, "x: duplicate entry"},
		{"unknown", errors.New("db exploded"), http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			RespondError(rr, tc.err)
			require.Equal(t, tc.status, rr.Code)
			require.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			var body ProblemDetail
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
			require.Equal(t, tc.status, body.Status)
			require.Equal(t, tc.detail, body.Detail)
		})
	}
}

func TestMarkKeepsOriginalChain(t *testing.T) {
	base := errors.New("base")
	marked := Mark(ErrNotFound, base)
	require.ErrorIs(t, marked, base)
	require.ErrorIs(t, marked, ErrNotFound)
	require.NoError(t, Mark(ErrNotFound, nil))
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Ratio float64 `json:"ratio"`
	}
	decode := func(body string) (payload, error) {
		var p payload
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		return p, DecodeJSON(req, &p)
	}

	got, err := decode(`{"ratio":2.5}` + "\n")
	require.NoError(t, err)
	require.Equal(t, 2.5, got.Ratio)

	_, err = decode(`{"ratio":2.5,"dry":true}`)
	require.ErrorContains(t, err, "unknown field")

	_, err = decode(`{"ratio":1}{"ratio":2}`)
	require.Error(t, err)

	_, err = decode(`{"ratio":"` + strings.Repeat("9", MaxBodyBytes) + `"}`)
	require.ErrorIs(t, err, ErrTooLarge)

	rr := httptest.NewRecorder()
	RespondError(rr, Mark(ErrValidation, err))
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestRespondErrorTimeout(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, fmt.Errorf("list plans: %w", context.DeadlineExceeded))
	require.Equal(t, http.StatusGatewayTimeout, rr.Code)

	var body ProblemDetail
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	require.Equal(t, "about:blank", body.Type)
	require.Empty(t, body.Detail)
}
