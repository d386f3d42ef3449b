// Package router picks the model backend for each request: a local model
// for simple single-action commands, a cloud model for anything that needs
// planning, several steps or a look at the screen.
package router

import (
	"fmt"
	"strings"
	"sync"

	"deskagent/internal/logging"
)

// Provider names a model backend.
type Provider string

const (
	ProviderLocal Provider = "local"
	ProviderCloud Provider = "cloud"
)

// Other returns the provider that is not p.
func (p Provider) Other() Provider {
	if p == ProviderCloud {
		return ProviderLocal
	}
	return ProviderCloud
}

// Mode is the user's routing preference.
type Mode int

const (
	ModeAuto Mode = iota
	ModeAlwaysLocal
	ModeAlwaysCloud
)

func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeAlwaysLocal:
		return "always_local"
	case ModeAlwaysCloud:
		return "always_cloud"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode accepts auto, always_local and always_cloud, plus their
// camel-case forms.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "")) {
	case "auto":
		return ModeAuto, nil
	case "alwayslocal":
		return ModeAlwaysLocal, nil
	case "alwayscloud":
		return ModeAlwaysCloud, nil
	}
	return ModeAuto, fmt.Errorf("unknown routing mode %q", s)
}

// Decision is the provider chosen for one request and why.
type Decision struct {
	Provider Provider
	Reason   string
}

// Availability reports whether a provider can currently serve requests.
type Availability interface {
	Available(p Provider) bool
}

// AvailabilityFunc adapts a function to Availability.
type AvailabilityFunc func(p Provider) bool

func (f AvailabilityFunc) Available(p Provider) bool { return f(p) }

// Router holds the routing mode. Route itself keeps no state between calls.
type Router struct {
	mu           sync.RWMutex
	mode         Mode
	availability Availability
}

// New creates a router. A nil availability treats both providers as
// available.
func New(mode Mode, availability Availability) *Router {
	if availability == nil {
		availability = AvailabilityFunc(func(Provider) bool { return true })
	}
	return &Router{mode: mode, availability: availability}
}

// SetMode changes the routing mode for subsequent requests.
func (r *Router) SetMode(mode Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = mode
}

// Mode returns the current routing mode.
func (r *Router) Mode() Mode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mode
}

// Route chooses the provider for input.
func (r *Router) Route(input string) Decision {
	d := r.route(input)
	logging.Routing("Routed to %s: %s", d.Provider, d.Reason)
	return d
}

func (r *Router) route(input string) Decision {
	mode := r.Mode()
	switch mode {
	case ModeAlwaysLocal:
		return Decision{Provider: ProviderLocal, Reason: "routing mode is always local"}

	case ModeAlwaysCloud:
		if r.availability.Available(ProviderCloud) {
			return Decision{Provider: ProviderCloud, Reason: "routing mode is always cloud"}
		}
		return Decision{Provider: ProviderLocal, Reason: "cloud model unavailable, falling back to the local model"}
	}

	cloudUp := r.availability.Available(ProviderCloud)
	localUp := r.availability.Available(ProviderLocal)
	switch {
	case cloudUp && !localUp:
		return Decision{Provider: ProviderCloud, Reason: "local model unavailable"}
	case localUp && !cloudUp:
		return Decision{Provider: ProviderLocal, Reason: "cloud model unavailable"}
	case !localUp && !cloudUp:
		return Decision{Provider: ProviderLocal, Reason: "no model reports available, trying the local model"}
	}

	if reason, complex := analyze(input); complex {
		return Decision{Provider: ProviderCloud, Reason: reason}
	}
	return Decision{Provider: ProviderLocal, Reason: "simple command"}
}

// Fallback returns the other provider if it reports itself available.
func (r *Router) Fallback(primary Provider) (Provider, bool) {
	other := primary.Other()
	if !r.availability.Available(other) {
		logging.RoutingDebug("No fallback from %s: %s unavailable", primary, other)
		return "", false
	}
	return other, true
}

// IsComplex reports whether input needs the cloud model's planning.
func (r *Router) IsComplex(input string) bool {
	_, complex := analyze(input)
	return complex
}
