package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the authorization server
type Metrics struct {
	// HTTP layer
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Flow
	CodeIssued       metric.Int64Counter
	CodeExchanged    metric.Int64Counter
	TokenRefreshed   metric.Int64Counter
	IdentityBridged  metric.Int64Counter
	ClientRegistered metric.Int64Counter

	// Security
	PKCEValidationFailed metric.Int64Counter
	CodeReuseDetected    metric.Int64Counter
	RefreshReuseDetected metric.Int64Counter

	// Storage
	StorageOperationTotal     metric.Int64Counter
	StorageOperationDuration  metric.Float64Histogram
	StorageCodesCount         metric.Int64ObservableGauge
	StorageAccessTokensCount  metric.Int64ObservableGauge
	StorageRefreshTokensCount metric.Int64ObservableGauge
	StorageClientsCount       metric.Int64ObservableGauge
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")

	var err error
	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"authserver.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"authserver.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.CodeIssued, err = serverMeter.Int64Counter(
		"authserver.code.issued",
		metric.WithDescription("Number of authorization codes issued"),
		metric.WithUnit("{code}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create code.issued counter: %w", err)
	}

	m.CodeExchanged, err = serverMeter.Int64Counter(
		"authserver.code.exchanged",
		metric.WithDescription("Number of authorization codes exchanged for tokens"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create code.exchanged counter: %w", err)
	}

	m.TokenRefreshed, err = serverMeter.Int64Counter(
		"authserver.token.refreshed",
		metric.WithDescription("Number of refresh token rotations"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.refreshed counter: %w", err)
	}

	m.IdentityBridged, err = serverMeter.Int64Counter(
		"authserver.identity.bridged",
		metric.WithDescription("Number of identity bridge responses served"),
		metric.WithUnit("{response}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity.bridged counter: %w", err)
	}

	m.ClientRegistered, err = serverMeter.Int64Counter(
		"authserver.client.registered",
		metric.WithDescription("Number of clients registered"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create client.registered counter: %w", err)
	}

	m.PKCEValidationFailed, err = securityMeter.Int64Counter(
		"authserver.pkce.validation_failed",
		metric.WithDescription("Number of PKCE validation failures"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pkce.validation_failed counter: %w", err)
	}

	m.CodeReuseDetected, err = securityMeter.Int64Counter(
		"authserver.code.reuse_detected",
		metric.WithDescription("Number of authorization code reuse attempts detected"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create code.reuse_detected counter: %w", err)
	}

	m.RefreshReuseDetected, err = securityMeter.Int64Counter(
		"authserver.refresh.reuse_detected",
		metric.WithDescription("Number of rotated refresh token replay attempts detected"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh.reuse_detected counter: %w", err)
	}

	m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"storage.operation.total",
		metric.WithDescription("Total number of storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.total counter: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.StorageCodesCount, err = storageMeter.Int64ObservableGauge(
		"storage.codes.count",
		metric.WithDescription("Number of pending authorization codes"),
		metric.WithUnit("{code}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.codes.count gauge: %w", err)
	}

	m.StorageAccessTokensCount, err = storageMeter.Int64ObservableGauge(
		"storage.access_tokens.count",
		metric.WithDescription("Number of stored access token records"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.access_tokens.count gauge: %w", err)
	}

	m.StorageRefreshTokensCount, err = storageMeter.Int64ObservableGauge(
		"storage.refresh_tokens.count",
		metric.WithDescription("Number of live refresh tokens"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.refresh_tokens.count gauge: %w", err)
	}

	m.StorageClientsCount, err = storageMeter.Int64ObservableGauge(
		"storage.clients.count",
		metric.WithDescription("Number of registered clients"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.clients.count gauge: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	}

	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordCodeIssued records an authorization code issuance
func (m *Metrics) RecordCodeIssued(ctx context.Context, clientID string) {
	m.CodeIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordCodeExchange records an authorization code exchange
func (m *Metrics) RecordCodeExchange(ctx context.Context, clientID string) {
	m.CodeExchanged.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordTokenRefresh records a refresh token rotation
func (m *Metrics) RecordTokenRefresh(ctx context.Context, clientID string) {
	m.TokenRefreshed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordIdentityBridged records an identity bridge response
func (m *Metrics) RecordIdentityBridged(ctx context.Context, clientID string) {
	m.IdentityBridged.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordClientRegistration records a client registration
func (m *Metrics) RecordClientRegistration(ctx context.Context, clientType string) {
	m.ClientRegistered.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_type", clientType),
	))
}

// RecordPKCEValidationFailed records a PKCE validation failure
func (m *Metrics) RecordPKCEValidationFailed(ctx context.Context, method string) {
	m.PKCEValidationFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
	))
}

// RecordCodeReuseDetected records an authorization code replay attempt
func (m *Metrics) RecordCodeReuseDetected(ctx context.Context) {
	m.CodeReuseDetected.Add(ctx, 1)
}

// RecordRefreshReuseDetected records a rotated refresh token replay attempt
func (m *Metrics) RecordRefreshReuseDetected(ctx context.Context) {
	m.RefreshReuseDetected.Add(ctx, 1)
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("result", result),
	}

	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}
