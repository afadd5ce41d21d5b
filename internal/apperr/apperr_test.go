package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatusAndMessage(t *testing.T) {
	wrapped := fmt.Errorf("%w: upstream timed out", ErrGateway)

	cases := []struct {
		err    error
		status int
		msg    string
	}{
		{ErrDuplicateReference, http.StatusConflict, "duplicate transaction reference"},
		{wrapped, ErrGateway.Status, ErrGateway.Message},
		{errors.New("pq: connection refused"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tc := range cases {
		if got := Status(tc.err); got != tc.status {
			t.Errorf("%v: expected status %d, got %d", tc.err, tc.status, got)
		}
		if got := Message(tc.err); got != tc.msg {
			t.Errorf("%v: expected message %q, got %q", tc.err, tc.msg, got)
		}
	}
	if !errors.Is(wrapped, Internal("payment gateway error")) {
		t.Errorf("expected wrapped gateway error to match by status and message")
	}
}
