package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/otpbay/otpbay/internal/models"

	"github.com/sirupsen/logrus"
)

// Action names accepted by the relay's high-level request shape.
const (
	ActionOperatorsAndPrices = "getOperatorsAndPrices"
	ActionBuyNumber          = "buyNumber"
	ActionCheckOrder         = "checkOrder"
	ActionCancelOrder        = "cancelOrder"
	ActionFinishOrder        = "finishOrder"
)

// DefaultProvider is used when an action request names no provider.
const DefaultProvider = "5sim"

var protectedActions = map[string]bool{
	ActionBuyNumber:   true,
	ActionCheckOrder:  true,
	ActionCancelOrder: true,
	ActionFinishOrder: true,
}

// ActionRequiresAuth reports whether an action needs an authenticated caller.
// Price discovery is guest-accessible; everything touching a number is not.
func ActionRequiresAuth(action string) bool {
	return protectedActions[action]
}

// RelayRequest is the low-level shape: an explicit endpoint relayed verbatim
// to the named provider.
type RelayRequest struct {
	Provider string      `json:"provider"`
	Endpoint string      `json:"endpoint"`
	Method   string      `json:"method"`
	Body     interface{} `json:"body"`
}

// ActionRequest is the high-level shape: a named action plus its payload,
// translated into a provider-specific endpoint by the relay.
type ActionRequest struct {
	Action  string        `json:"action"`
	Payload ActionPayload `json:"payload"`
}

type ActionPayload struct {
	Provider string     `json:"provider"`
	Country  string     `json:"country"`
	Product  string     `json:"product"`
	Service  NamedValue `json:"service"`
	Server   NamedValue `json:"server"`
	Operator NamedValue `json:"operator"`
	OrderID  string     `json:"orderId"`
}

type NamedValue struct {
	Name string `json:"name"`
}

// RelayResponse carries the upstream answer through untouched.
type RelayResponse struct {
	StatusCode int
	Body       json.RawMessage
}

type ProviderResolver interface {
	Resolve(ctx context.Context, name string) (*models.Provider, error)
}

// Relay forwards requests to third-party number providers, attaching the
// stored credential for the named provider. Upstream failures are returned
// as-is; the relay never retries.
type Relay struct {
	registry ProviderResolver
	client   *http.Client
	prices   *PriceCache
	metrics  *Metrics
	logger   *logrus.Logger
}

func NewRelay(registry ProviderResolver, timeout time.Duration, prices *PriceCache, metrics *Metrics, logger *logrus.Logger) *Relay {
	return &Relay{
		registry: registry,
		client:   &http.Client{Timeout: timeout},
		prices:   prices,
		metrics:  metrics,
		logger:   logger,
	}
}

// Relay resolves the provider and forwards the request to baseURL+endpoint
// with the provider's credential. The upstream status and body are passed
// through verbatim, success or not.
func (r *Relay) Relay(ctx context.Context, req RelayRequest) (*RelayResponse, error) {
	provider, err := r.registry.Resolve(ctx, req.Provider)
	if err != nil {
		return nil, err
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	targetURL := provider.BaseURL + req.Endpoint

	var bodyReader io.Reader
	if req.Body != nil && method != http.MethodGet {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, targetURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+provider.APIKey)
	httpReq.Header.Set("Accept", "application/json")
	if bodyReader != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	r.logger.WithFields(logrus.Fields{
		"provider": provider.Name,
		"method":   method,
		"url":      targetURL,
	}).Info("Relaying request to provider")

	start := time.Now()
	resp, err := r.client.Do(httpReq)
	if r.metrics != nil {
		r.metrics.RecordRelayRequest(provider.Name, method, err == nil)
	}
	if err != nil {
		r.logger.WithError(err).WithField("provider", provider.Name).Error("Upstream request failed")
		return nil, fmt.Errorf("%w: %v", models.ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", models.ErrUpstream, err)
	}

	if r.metrics != nil {
		r.metrics.ObserveRelayDuration(provider.Name, time.Since(start))
	}

	if !json.Valid(body) {
		r.logger.WithField("provider", provider.Name).Warn("Provider returned a non-JSON response")
		return nil, fmt.Errorf("%w: provider returned an invalid response", models.ErrUpstream)
	}

	return &RelayResponse{StatusCode: resp.StatusCode, Body: body}, nil
}

// Action translates a named action into the provider endpoint it maps to and
// relays it. Price lookups are served from the cache when possible.
func (r *Relay) Action(ctx context.Context, req ActionRequest) (*RelayResponse, error) {
	providerName := req.Payload.Provider
	if providerName == "" {
		providerName = DefaultProvider
	}

	endpoint, err := buildActionEndpoint(req.Action, req.Payload)
	if err != nil {
		return nil, err
	}

	if req.Action == ActionOperatorsAndPrices && r.prices != nil {
		if cached, ok := r.prices.Get(ctx, providerName, req.Payload.Country, req.Payload.Product); ok {
			return &RelayResponse{StatusCode: http.StatusOK, Body: cached}, nil
		}
	}

	resp, err := r.Relay(ctx, RelayRequest{
		Provider: providerName,
		Endpoint: endpoint,
		Method:   http.MethodGet,
	})
	if err != nil {
		return nil, err
	}

	if req.Action == ActionOperatorsAndPrices && r.prices != nil && resp.StatusCode == http.StatusOK {
		r.prices.Set(ctx, providerName, req.Payload.Country, req.Payload.Product, resp.Body)
	}

	return resp, nil
}

func buildActionEndpoint(action string, p ActionPayload) (string, error) {
	switch action {
	case ActionOperatorsAndPrices:
		return fmt.Sprintf("/guest/prices?country=%s&product=%s",
			url.QueryEscape(p.Country), url.QueryEscape(p.Product)), nil
	case ActionBuyNumber:
		return fmt.Sprintf("/user/buy/activation/%s/%s/%s",
			url.PathEscape(p.Server.Name),
			url.PathEscape(p.Operator.Name),
			url.PathEscape(strings.ToLower(p.Service.Name))), nil
	case ActionCheckOrder:
		return "/user/check/" + url.PathEscape(p.OrderID), nil
	case ActionCancelOrder:
		return "/user/cancel/" + url.PathEscape(p.OrderID), nil
	case ActionFinishOrder:
		return "/user/finish/" + url.PathEscape(p.OrderID), nil
	default:
		return "", fmt.Errorf("unknown action '%s'", action)
	}
}
