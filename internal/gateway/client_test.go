package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL+"/", "sk_test", 2*time.Second, nil, nil)
}

func TestClient_Initialize(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))

		var req InitializeRequest
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "REF1", req.Reference)
		assert.Equal(t, int64(510_000), req.Amount)

		_, _ = w.Write([]byte(`{"status":true,"message":"Authorization URL created","data":{"authorization_url":"https://checkout/abc","access_code":"abc","reference":"REF1"}}`))
	})

	result, err := client.Initialize(context.Background(), InitializeRequest{
		Reference: "REF1",
		Email:     "u1@example.com",
		Amount:    510_000,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout/abc", result.AuthorizationURL)
	assert.Equal(t, "abc", result.AccessCode)
}

func TestClient_Verify(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/transaction/verify/REF1", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":{"reference":"REF1","status":"success","amount":510000,"paid_at":"2024-01-02T10:00:00Z","channel":"card","fees":7650}}`))
	})

	txn, err := client.Verify(context.Background(), "REF1")
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, txn.Status)
	assert.Equal(t, int64(510_000), txn.Amount)
	assert.Equal(t, int64(7_650), txn.Fees)
	assert.Equal(t, time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC), txn.PaidAt.UTC())
}

func TestClient_VerifyToleratesNullPaidAt(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":{"status":"abandoned","amount":510000,"paid_at":null}}`))
	})

	txn, err := client.Verify(context.Background(), "REF1")
	require.NoError(t, err)
	assert.Equal(t, "REF1", txn.Reference)
	assert.Equal(t, StatusAbandoned, txn.Status)
	assert.True(t, txn.PaidAt.IsZero())
}

func TestClient_ErrorsAreTyped(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		handler http.HandlerFunc
		status  int
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"status":false,"message":"upstream unavailable"}`))
		}, http.StatusBadGateway},
		{"rejected", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":false,"message":"Transaction reference not found"}`))
		}, http.StatusOK},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>`))
		}, http.StatusOK},
		{"no data", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":null}`))
		}, http.StatusOK},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := newTestClient(t, tc.handler).Verify(context.Background(), "REF1")

			var gwErr *Error
			require.ErrorAs(t, err, &gwErr)
			assert.Equal(t, "verify", gwErr.Op)
			assert.Equal(t, tc.status, gwErr.StatusCode)
		})
	}
}

func TestClient_Unreachable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewClient(url, "sk_test", time.Second, nil, nil).Verify(context.Background(), "REF1")
	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, "verify", gwErr.Op)
}

func TestClient_RespectsContext(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Verify(ctx, "REF1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStatus_IsFinal(t *testing.T) {
	t.Parallel()

	for _, s := range []Status{StatusSuccess, StatusFailed, StatusAbandoned, StatusReversed} {
		assert.True(t, s.IsFinal(), s)
	}
	for _, s := range []Status{StatusPending, StatusOngoing, ""} {
		assert.False(t, s.IsFinal(), s)
	}
}
