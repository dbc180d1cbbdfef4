// Package threat looks up file digests against an upstream reputation
// provider and reduces the provider's answer to a verdict summary.
//
// A lookup has exactly three outcomes: a verdict with per-category engine
// counts, an unknown artifact (the provider has no record), or an upstream
// error carrying the provider's status and raw body.
package threat

import (
	"context"
	"errors"
)

var (
	// ErrMalformedPayload is returned when a successful provider response
	// does not carry a complete analysis-statistics object.
	ErrMalformedPayload = errors.New("threat: malformed provider payload")

	// ErrTransport wraps failures to reach the provider at all.
	ErrTransport = errors.New("threat: provider request failed")

	// ErrRateLimited is returned when a lookup could not obtain a slot from
	// the provider rate limiter before its context ended.
	ErrRateLimited = errors.New("threat: provider rate limit exceeded")
)

// Engine categories that every verdict must report.
const (
	CategoryMalicious  = "malicious"
	CategorySuspicious = "suspicious"
	CategoryHarmless   = "harmless"
	CategoryUndetected = "undetected"
)

// RequiredCategories lists the keys Normalize insists on.
var RequiredCategories = []string{
	CategoryMalicious,
	CategorySuspicious,
	CategoryHarmless,
	CategoryUndetected,
}

// Stats maps a detection category to the number of engines that reported it.
type Stats map[string]int

// Outcome discriminates a Result.
type Outcome int

const (
	OutcomeVerdict Outcome = iota + 1
	OutcomeUnknown
	OutcomeUpstreamError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeVerdict:
		return "verdict"
	case OutcomeUnknown:
		return "unknown"
	case OutcomeUpstreamError:
		return "upstream_error"
	default:
		return "invalid"
	}
}

// Result is the outcome of a single provider lookup.
type Result struct {
	Outcome Outcome

	// Stats is set only for OutcomeVerdict.
	Stats Stats

	// Status and Body are set only for OutcomeUpstreamError.
	Status int
	Body   string
}

// Verdict returns a Result carrying stats.
func Verdict(stats Stats) *Result {
	return &Result{Outcome: OutcomeVerdict, Stats: stats}
}

// Unknown returns the Result for an artifact the provider has never seen.
func Unknown() *Result {
	return &Result{Outcome: OutcomeUnknown}
}

// UpstreamError returns a Result for an unexpected provider status.
func UpstreamError(status int, body string) *Result {
	return &Result{Outcome: OutcomeUpstreamError, Status: status, Body: body}
}

// Provider resolves a digest to a reputation Result. Implementations make a
// single attempt per call and keep no state between calls.
type Provider interface {
	Lookup(ctx context.Context, digest string) (*Result, error)
}

// ProviderFunc adapts a plain function to Provider.
type ProviderFunc func(ctx context.Context, digest string) (*Result, error)

// Lookup implements Provider.
func (f ProviderFunc) Lookup(ctx context.Context, digest string) (*Result, error) {
	return f(ctx, digest)
}

// Severity labels a result for logs and metrics:
//
//	malicious      → at least one engine flagged it malicious
//	suspicious     → none malicious, at least one suspicious
//	clean          → verdict with neither
//	unknown        → provider has no record
//	error          → upstream error or nil result
func Severity(r *Result) string {
	if r == nil {
		return "error"
	}
	switch r.Outcome {
	case OutcomeVerdict:
		switch {
		case r.Stats[CategoryMalicious] > 0:
			return "malicious"
		case r.Stats[CategorySuspicious] > 0:
			return "suspicious"
		default:
			return "clean"
		}
	case OutcomeUnknown:
		return "unknown"
	default:
		return "error"
	}
}
