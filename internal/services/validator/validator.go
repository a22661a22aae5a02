package validator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/solstream/keygate/internal/metrics"
	"github.com/solstream/keygate/internal/models"
	"github.com/solstream/keygate/internal/services/cache"
	"github.com/solstream/keygate/internal/services/keystore"
	"github.com/solstream/keygate/internal/services/ratelimit"
	"github.com/solstream/keygate/internal/services/scope"
	"github.com/solstream/keygate/internal/services/token"
	"github.com/solstream/keygate/internal/services/usagelog"
)

// Request is one authorization question: may this token perform a call
// requiring this permission, optionally against this resource?
type Request struct {
	Token              string
	RequiredPermission string
	ResourceID         string
}

// Result is a successful authorization. Record hands the call's metadata to
// the usage logger once the downstream action has completed.
type Result struct {
	Key       *models.APIKey
	RateLimit ratelimit.Result

	usage  *usagelog.Service
	worker *usagelog.Worker
}

// Record submits the call's usage entry, fire-and-forget. The quota was
// already consumed at validation time; this only persists the detail row.
func (r *Result) Record(meta models.RecordUsageParams, requestID string) {
	meta.KeyID = r.Key.KeyID
	meta.OwnerID = r.Key.OwnerID

	if r.worker != nil {
		r.worker.Submit(meta, requestID)
		return
	}
	if _, err := r.usage.Record(context.Background(), meta); err != nil {
		// best-effort: a failed usage write never unwinds the request
		metrics.UsageEntriesDropped.Inc()
	}
}

// Validator runs the per-request authorization pipeline. Checks run in a
// fixed order and short-circuit on the first failure, so the reason a caller
// sees is stable: format errors before existence errors before scope errors.
type Validator struct {
	codec   *token.Codec
	store   *keystore.Service
	limiter *ratelimit.Limiter
	usage   *usagelog.Service
	worker  *usagelog.Worker
	lookup  *cache.LookupCache
}

func New(codec *token.Codec, store *keystore.Service, limiter *ratelimit.Limiter, usage *usagelog.Service, worker *usagelog.Worker, lookup *cache.LookupCache) *Validator {
	return &Validator{
		codec:   codec,
		store:   store,
		limiter: limiter,
		usage:   usage,
		worker:  worker,
		lookup:  lookup,
	}
}

// Validate answers one Request. On success it returns the key record plus a
// handle for recording usage; on failure, a rejection with a stable reason
// code. Internal faults surface as sanitized internal errors, never as
// caller-attributable rejections.
func (v *Validator) Validate(ctx context.Context, req Request) (*Result, *models.ValidationError) {
	now := time.Now().UTC()

	// 1. format
	if err := token.CheckFormat(req.Token); err != nil {
		return nil, v.reject(formatReason(err), err.Error())
	}

	// 2. lookup
	key, err := v.findKey(ctx, req.Token)
	if err != nil {
		if errors.Is(err, models.ErrKeyNotFound) {
			// never-existed and revoked-then-purged look identical here
			return nil, v.reject(models.ReasonKeyNotFound, "no key matches the presented token")
		}
		return nil, v.internal(err)
	}

	// 3. status
	if key.Status != models.KeyStatusActive {
		return nil, v.reject(models.ReasonInactiveKey, fmt.Sprintf("key %s is %s", key.KeyID, key.Status))
	}

	// 4. expiry
	if key.IsExpired(now) {
		return nil, v.reject(models.ReasonExpiredKey, fmt.Sprintf("key %s expired at %s", key.KeyID, key.ExpiresAt.UTC().Format(time.RFC3339)))
	}

	// 5. permission
	if req.RequiredPermission != "" && !key.HasPermission(req.RequiredPermission) {
		return nil, v.reject(models.ReasonInsufficientPermissions,
			fmt.Sprintf("key %s does not hold the %q permission", key.KeyID, req.RequiredPermission))
	}

	// 6. rate (read-only; admission happens below so denial ordering stays
	// ahead of scope errors without consuming quota on a scope rejection)
	if check := v.limiter.Check(key, now); !check.Allowed {
		return nil, v.rateLimited(check)
	}

	// 7. scope, only when the call names a target resource
	if req.ResourceID != "" {
		if decision := scope.Authorize(key, req.ResourceID); !decision.Allowed {
			return nil, v.reject(models.ReasonInsufficientScope, decision.Reason)
		}
	}

	// 8. atomic admission: rollover + check + increment under a row lock
	consumed, err := v.usage.ConsumeQuota(ctx, key.KeyID, now)
	if err != nil {
		return nil, v.internal(err)
	}
	if !consumed.Allowed {
		return nil, v.rateLimited(consumed)
	}

	metrics.ValidationsTotal.WithLabelValues("authorized").Inc()

	return &Result{
		Key:       key,
		RateLimit: consumed,
		usage:     v.usage,
		worker:    v.worker,
	}, nil
}

func (v *Validator) findKey(ctx context.Context, plaintext string) (*models.APIKey, error) {
	digest := v.codec.Hash(plaintext)

	if v.lookup == nil {
		return v.store.FindByDigest(ctx, digest)
	}

	keyID, err := v.lookup.KeyID(ctx, digest, func(ctx context.Context, digest string) (string, error) {
		key, err := v.store.FindByDigest(ctx, digest)
		if err != nil {
			return "", err
		}
		return key.KeyID, nil
	})
	if err != nil {
		return nil, err
	}

	return v.store.GetByID(ctx, keyID)
}

func (v *Validator) reject(code models.ReasonCode, message string) *models.ValidationError {
	metrics.ValidationsTotal.WithLabelValues(string(code)).Inc()
	return models.NewValidationError(code, message)
}

func (v *Validator) rateLimited(check ratelimit.Result) *models.ValidationError {
	rejection := v.reject(models.ReasonRateLimitExceeded,
		fmt.Sprintf("monthly budget of %d requests exhausted", check.Limit))
	rejection.RetryAfterSeconds = check.RetryAfterSeconds
	return rejection
}

func (v *Validator) internal(err error) *models.ValidationError {
	metrics.ValidationsTotal.WithLabelValues(string(models.ReasonInternal)).Inc()
	return models.NewInternalError(err)
}

func formatReason(err error) models.ReasonCode {
	switch {
	case errors.Is(err, token.ErrEmptyToken):
		return models.ReasonMissingKey
	case errors.Is(err, token.ErrInvalidPrefix):
		return models.ReasonInvalidKeyFormat
	case errors.Is(err, token.ErrUnknownEnvironment):
		return models.ReasonInvalidEnvironment
	default:
		return models.ReasonMalformedKey
	}
}
