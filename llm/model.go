package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	spacebot "github.com/nevindra/spacebot"
	"github.com/nevindra/spacebot/internal/config"
)

const (
	// MaxRetriesPerModel bounds attempts against one model before moving
	// down the fallback chain.
	MaxRetriesPerModel = 3
	// MaxFallbackAttempts caps how many fallbacks are tried per call.
	MaxFallbackAttempts = 3
	// RetryBaseDelay is the backoff unit: attempt n sleeps
	// RetryBaseDelay * 2^(n-1) before retrying.
	RetryBaseDelay = 500 * time.Millisecond
)

// Model is one (provider, model) pair, optionally with routing for
// fallback and cooldown behavior. Zero routing means direct calls only.
type Model struct {
	manager  *Manager
	provider string
	name     string
	fullName string
	routing  *config.RoutingConfig
}

// NewModel resolves "provider/model-name" (bare names default to
// anthropic; "openrouter/vendor/model" keeps the vendor prefix in the
// model name).
func NewModel(m *Manager, fullName string) Model {
	var provider, name string
	if rest, ok := strings.CutPrefix(fullName, "openrouter/"); ok {
		provider, name = "openrouter", rest
	} else if p, n, ok := strings.Cut(fullName, "/"); ok {
		provider, name = p, n
	} else {
		provider, name = "anthropic", fullName
	}
	return Model{
		manager:  m,
		provider: provider,
		name:     name,
		fullName: provider + "/" + name,
	}
}

// WithRouting attaches routing config for fallback behavior.
func (mo Model) WithRouting(r config.RoutingConfig) Model {
	mo.routing = &r
	return mo
}

func (mo Model) Provider() string { return mo.provider }
func (mo Model) Name() string     { return mo.name }
func (mo Model) FullName() string { return mo.fullName }

// attempt performs one direct provider call with no fallback logic.
func (mo Model) attempt(ctx context.Context, req spacebot.CompletionRequest) (spacebot.CompletionResponse, error) {
	p, err := mo.manager.Provider(mo.provider)
	if err != nil {
		return spacebot.CompletionResponse{}, err
	}
	return mo.manager.transport(p).Complete(ctx, mo.name, req)
}

// attemptWithRetries tries one model up to MaxRetriesPerModel times with
// exponential backoff on retriable errors. The bool reports whether the
// final failure was a rate limit, so the caller can record cooldown.
func (mo Model) attemptWithRetries(ctx context.Context, fullName string, req spacebot.CompletionRequest) (spacebot.CompletionResponse, bool, error) {
	model := mo
	if fullName != mo.fullName {
		model = NewModel(mo.manager, fullName)
	}

	var lastErr error
	for attempt := 0; attempt < MaxRetriesPerModel; attempt++ {
		if attempt > 0 {
			delay := RetryBaseDelay << (attempt - 1)
			mo.manager.logger.Debug("retrying after backoff",
				"model", fullName, "attempt", attempt+1, "delay", delay)
			select {
			case <-ctx.Done():
				return spacebot.CompletionResponse{}, false, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := model.attempt(ctx, req)
		if err == nil {
			return resp, false, nil
		}
		if Cancelled(err) || !Retriable(err) {
			return spacebot.CompletionResponse{}, false, err
		}
		mo.manager.logger.Warn("retriable error",
			"model", fullName, "attempt", attempt+1, "error", err)
		lastErr = err
	}

	wasRateLimit := RateLimited(lastErr)
	return spacebot.CompletionResponse{}, wasRateLimit, fmt.Errorf(
		"%s failed after %d attempts: %w", fullName, MaxRetriesPerModel, lastErr)
}

// Completion executes the request against the primary model and, when
// routing is attached, its fallback chain. A model in rate-limit cooldown
// is skipped (the primary only when fallbacks exist); a rate-limit exit
// records cooldown for that model. Cancellation aborts immediately and is
// never recorded as a model failure.
func (mo Model) Completion(ctx context.Context, req spacebot.CompletionRequest) (spacebot.CompletionResponse, error) {
	if mo.routing == nil {
		return mo.attempt(ctx, req)
	}

	cooldown := time.Duration(mo.routing.RateLimitCooldownSecs) * time.Second
	fallbacks := mo.routing.Fallbacks[mo.fullName]
	var lastErr error

	skipPrimary := mo.manager.IsRateLimited(mo.fullName, cooldown) && len(fallbacks) > 0
	if skipPrimary {
		mo.manager.logger.Debug("primary model in rate-limit cooldown, skipping to fallbacks",
			"model", mo.fullName)
	} else {
		resp, wasRateLimit, err := mo.attemptWithRetries(ctx, mo.fullName, req)
		if err == nil {
			return resp, nil
		}
		if Cancelled(err) {
			return spacebot.CompletionResponse{}, err
		}
		if wasRateLimit {
			mo.manager.RecordRateLimit(mo.fullName)
		}
		if len(fallbacks) == 0 {
			return spacebot.CompletionResponse{}, err
		}
		mo.manager.logger.Warn("primary model exhausted retries, trying fallbacks",
			"model", mo.fullName)
		lastErr = err
	}

	for i, name := range fallbacks {
		if i >= MaxFallbackAttempts {
			break
		}
		if mo.manager.IsRateLimited(name, cooldown) {
			mo.manager.logger.Debug("fallback model in cooldown, skipping", "fallback", name)
			continue
		}

		resp, wasRateLimit, err := mo.attemptWithRetries(ctx, name, req)
		if err == nil {
			mo.manager.logger.Info("fallback model succeeded",
				"original", mo.fullName, "fallback", name, "attempt", i+1)
			return resp, nil
		}
		if Cancelled(err) {
			return spacebot.CompletionResponse{}, err
		}
		if wasRateLimit {
			mo.manager.RecordRateLimit(name)
		}
		mo.manager.logger.Warn("fallback model exhausted retries, continuing chain",
			"fallback", name)
		lastErr = err
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("all models in fallback chain failed or cooling down")
	}
	return spacebot.CompletionResponse{}, lastErr
}

// ProcessTier selects which routing slot a process reads its model from.
type ProcessTier string

const (
	TierChannel   ProcessTier = "channel"
	TierBranch    ProcessTier = "branch"
	TierWorker    ProcessTier = "worker"
	TierCompactor ProcessTier = "compactor"
	TierCortex    ProcessTier = "cortex"
)

// ModelForTier builds the routed model for a process tier from the current
// routing snapshot.
func ModelForTier(m *Manager, routing config.RoutingConfig, tier ProcessTier) Model {
	name := routing.Channel
	switch tier {
	case TierBranch:
		name = routing.Branch
	case TierWorker:
		name = routing.Worker
	case TierCompactor:
		name = routing.Compactor
	case TierCortex:
		name = routing.Cortex
	}
	return NewModel(m, name).WithRouting(routing)
}
