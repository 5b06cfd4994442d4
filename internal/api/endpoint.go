package api

import (
	"context"

	"go.uber.org/zap"
)

const endpointContextKey contextKey = "endpoint"

// Endpoint identifies the listener a connection was accepted on.
type Endpoint struct {
	Name    string
	Address string
	HTTPS   bool
}

// ContextWithEndpoint tags ctx with the endpoint that accepted a
// connection. Servers install it through http.Server.ConnContext so every
// request on that connection carries it.
func ContextWithEndpoint(ctx context.Context, ep Endpoint) context.Context {
	return context.WithValue(ctx, endpointContextKey, ep)
}

// EndpointFromContext returns the endpoint recorded by ContextWithEndpoint.
func EndpointFromContext(ctx context.Context) (Endpoint, bool) {
	ep, ok := ctx.Value(endpointContextKey).(Endpoint)
	return ep, ok
}

// label names the endpoint in logs and headers: its configured name when
// it has one, its address otherwise.
func (e Endpoint) label() string {
	if e.Name != "" {
		return e.Name
	}
	return e.Address
}

func (e Endpoint) fields() []zap.Field {
	return []zap.Field{
		zap.String("endpoint", e.label()),
		zap.String("target", e.Address),
		zap.Bool("https", e.HTTPS),
	}
}
