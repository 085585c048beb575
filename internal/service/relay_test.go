package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/otpbay/otpbay/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubResolver serves a fixed provider for any known name.
type stubResolver struct {
	providers map[string]*models.Provider
}

func (s *stubResolver) Resolve(ctx context.Context, name string) (*models.Provider, error) {
	provider, ok := s.providers[name]
	if !ok {
		return nil, models.ErrProviderNotFound
	}
	return provider, nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newTestRelay(upstream *httptest.Server, apiKey string) *Relay {
	resolver := &stubResolver{providers: map[string]*models.Provider{
		"5sim": {Name: "5sim", BaseURL: upstream.URL, APIKey: apiKey},
	}}
	return NewRelay(resolver, 5*time.Second, nil, nil, testLogger())
}

func TestRelay_ForwardsToBaseURLPlusEndpoint(t *testing.T) {
	var gotPath, gotAuth, gotAccept, gotMethod string

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		gotMethod = r.Method
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"balance": 42.5}`))
	}))
	defer upstream.Close()

	relay := newTestRelay(upstream, "secret-key")

	resp, err := relay.Relay(context.Background(), RelayRequest{
		Provider: "5sim",
		Endpoint: "/user/profile",
		Method:   "GET",
	})
	require.NoError(t, err)

	assert.Equal(t, "/user/profile", gotPath)
	assert.Equal(t, "Bearer secret-key", gotAuth)
	assert.Equal(t, "application/json", gotAccept)
	assert.Equal(t, http.MethodGet, gotMethod)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"balance": 42.5}`, string(resp.Body))
}

func TestRelay_PassesUpstreamErrorsThroughVerbatim(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "order not found"}`))
	}))
	defer upstream.Close()

	relay := newTestRelay(upstream, "key")

	resp, err := relay.Relay(context.Background(), RelayRequest{
		Provider: "5sim",
		Endpoint: "/user/check/999",
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"error": "order not found"}`, string(resp.Body))
}

func TestRelay_PostBodyIsEncodedAsJSON(t *testing.T) {
	var gotContentType string
	var gotBody []byte

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	relay := newTestRelay(upstream, "key")

	_, err := relay.Relay(context.Background(), RelayRequest{
		Provider: "5sim",
		Endpoint: "/user/vendor/withdraw",
		Method:   "POST",
		Body:     map[string]interface{}{"amount": 10},
	})
	require.NoError(t, err)

	assert.Equal(t, "application/json", gotContentType)
	assert.JSONEq(t, `{"amount": 10}`, string(gotBody))
}

func TestRelay_UnknownProvider(t *testing.T) {
	relay := NewRelay(&stubResolver{providers: map[string]*models.Provider{}}, time.Second, nil, nil, testLogger())

	_, err := relay.Relay(context.Background(), RelayRequest{Provider: "nosuch", Endpoint: "/x"})
	assert.ErrorIs(t, err, models.ErrProviderNotFound)
}

func TestRelay_UnreachableUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	upstream.Close() // nothing is listening anymore

	relay := newTestRelay(upstream, "key")

	_, err := relay.Relay(context.Background(), RelayRequest{Provider: "5sim", Endpoint: "/guest/prices"})
	assert.ErrorIs(t, err, models.ErrUpstream)
}

func TestRelay_NonJSONResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer upstream.Close()

	relay := newTestRelay(upstream, "key")

	_, err := relay.Relay(context.Background(), RelayRequest{Provider: "5sim", Endpoint: "/guest/prices"})
	assert.ErrorIs(t, err, models.ErrUpstream)
}

func TestBuildActionEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		action  string
		payload ActionPayload
		want    string
		wantErr bool
	}{
		{
			name:    "prices",
			action:  ActionOperatorsAndPrices,
			payload: ActionPayload{Country: "russia", Product: "telegram"},
			want:    "/guest/prices?country=russia&product=telegram",
		},
		{
			name:   "buy number lowercases the service",
			action: ActionBuyNumber,
			payload: ActionPayload{
				Server:   NamedValue{Name: "russia"},
				Operator: NamedValue{Name: "any"},
				Service:  NamedValue{Name: "Telegram"},
			},
			want: "/user/buy/activation/russia/any/telegram",
		},
		{
			name:    "check order",
			action:  ActionCheckOrder,
			payload: ActionPayload{OrderID: "12345"},
			want:    "/user/check/12345",
		},
		{
			name:    "cancel order",
			action:  ActionCancelOrder,
			payload: ActionPayload{OrderID: "12345"},
			want:    "/user/cancel/12345",
		},
		{
			name:    "finish order",
			action:  ActionFinishOrder,
			payload: ActionPayload{OrderID: "12345"},
			want:    "/user/finish/12345",
		},
		{
			name:    "unknown action",
			action:  "formatHardDrive",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildActionEndpoint(tt.action, tt.payload)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRelay_ActionDefaultsToFiveSim(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		w.Write([]byte(`{"beeline": {"cost": 12}}`))
	}))
	defer upstream.Close()

	relay := newTestRelay(upstream, "key")

	resp, err := relay.Action(context.Background(), ActionRequest{
		Action:  ActionOperatorsAndPrices,
		Payload: ActionPayload{Country: "russia", Product: "telegram"},
	})
	require.NoError(t, err)

	assert.Equal(t, "/guest/prices?country=russia&product=telegram", gotPath)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Body, &decoded))
	assert.Contains(t, decoded, "beeline")
}

func TestActionRequiresAuth(t *testing.T) {
	assert.False(t, ActionRequiresAuth(ActionOperatorsAndPrices))
	assert.True(t, ActionRequiresAuth(ActionBuyNumber))
	assert.True(t, ActionRequiresAuth(ActionCheckOrder))
	assert.True(t, ActionRequiresAuth(ActionCancelOrder))
	assert.True(t, ActionRequiresAuth(ActionFinishOrder))
	assert.False(t, ActionRequiresAuth("somethingElse"))
}
