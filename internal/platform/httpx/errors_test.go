package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

func TestRespondErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: qty", shared.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: batch", shared.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: batch id", shared.ErrConflict), http.StatusConflict},
		{shared.ErrIdempotencyConflict, http.StatusConflict},
		{fmt.Errorf("%w: product 1", shared.ErrInsufficientStock), http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: timeout", shared.ErrTransient), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: rollback", shared.ErrIntegrity), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)
		require.Equal(t, tc.status, rr.Code, tc.err.Error())

		var body ProblemDetail
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		require.Equal(t, tc.status, body.Status)
	}
}

func TestRespondErrorTransientSetsRetryAfter(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, shared.ErrTransient)
	require.Equal(t, "1", rr.Header().Get("Retry-After"))
}
