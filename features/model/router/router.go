// Package router dispatches completion requests to provider-specific model
// clients based on the requested model id. One router fronts all configured
// providers so activities hold a single model.Client.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/orbitlabs/orbit/runtime/agent/model"
)

// Route binds a model-id prefix to a provider client.
type Route struct {
	// Prefix matches model ids, e.g. "claude-" or "gpt-".
	Prefix string
	// Client serves completions for matching models. Required.
	Client model.Client
}

// Options configures the router.
type Options struct {
	// Routes are evaluated in order; the first prefix match wins.
	Routes []Route
	// Default serves requests no route matches; nil makes unmatched model ids
	// an error.
	Default model.Client
}

// Router implements model.Client by delegating to the route table.
type Router struct {
	routes []Route
	def    model.Client
}

// New validates the routes and builds the router.
func New(opts Options) (*Router, error) {
	if len(opts.Routes) == 0 && opts.Default == nil {
		return nil, errors.New("model router: at least one route or a default client is required")
	}
	for _, r := range opts.Routes {
		if r.Prefix == "" {
			return nil, errors.New("model router: route prefix is required")
		}
		if r.Client == nil {
			return nil, fmt.Errorf("model router: route %q has no client", r.Prefix)
		}
	}
	return &Router{routes: opts.Routes, def: opts.Default}, nil
}

// Complete forwards the request to the client owning the model id.
func (r *Router) Complete(ctx context.Context, req model.CompletionRequest) (model.CompletionResponse, error) {
	for _, route := range r.routes {
		if strings.HasPrefix(req.ModelID, route.Prefix) {
			return route.Client.Complete(ctx, req)
		}
	}
	if r.def != nil {
		return r.def.Complete(ctx, req)
	}
	return model.CompletionResponse{}, fmt.Errorf("model router: no provider for model %q", req.ModelID)
}

var _ model.Client = (*Router)(nil)
