// Package service implements the scan pipeline: classify a request, resolve
// it to a digest and look the digest up with a reputation provider.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmerrifield20/hashverdict/internal/digest"
	"github.com/jmerrifield20/hashverdict/internal/scanner/model"
	"github.com/jmerrifield20/hashverdict/internal/threat"
	"go.uber.org/zap"
)

// ErrInvalidSubmission is returned for a nil or unpopulated Submission.
var ErrInvalidSubmission = errors.New("invalid submission")

// ScanOutcome is the product of a completed pipeline run.
type ScanOutcome struct {
	Digest string
	Source model.Kind
	Result *threat.Result
}

// ScanService resolves submissions to digests and queries the provider.
// It holds no per-request state and is safe for concurrent use.
type ScanService struct {
	provider threat.Provider
	logger   *zap.Logger
}

// NewScanService creates a ScanService backed by provider.
func NewScanService(provider threat.Provider, logger *zap.Logger) *ScanService {
	return &ScanService{provider: provider, logger: logger}
}

// Resolve returns the digest to look up for sub. File uploads are hashed;
// hash references are returned unchanged, whatever their format.
func (s *ScanService) Resolve(sub *model.Submission) (string, error) {
	if sub == nil {
		return "", ErrInvalidSubmission
	}
	switch sub.Kind {
	case model.KindFileUpload:
		if sub.File == nil {
			return "", ErrInvalidSubmission
		}
		d, err := digest.Compute(sub.File)
		if err != nil {
			return "", fmt.Errorf("hash upload %q: %w", sub.Filename, err)
		}
		return d.String(), nil
	case model.KindHashReference:
		if sub.Hash == "" {
			return "", ErrInvalidSubmission
		}
		return sub.Hash, nil
	default:
		return "", ErrInvalidSubmission
	}
}

// Scan runs one submission through the pipeline. Unknown and upstream-error
// results are returned as outcomes, not errors; errors are reserved for read
// failures, transport failures and malformed provider payloads.
func (s *ScanService) Scan(ctx context.Context, sub *model.Submission) (*ScanOutcome, error) {
	d, err := s.Resolve(sub)
	if err != nil {
		return nil, err
	}

	res, err := s.provider.Lookup(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", d, err)
	}

	switch res.Outcome {
	case threat.OutcomeUnknown:
		s.logger.Info("digest unknown to provider", zap.String("digest", d))
	case threat.OutcomeUpstreamError:
		s.logger.Warn("provider lookup failed",
			zap.String("digest", d),
			zap.Int("status", res.Status),
			zap.String("body", res.Body),
		)
	}

	return &ScanOutcome{Digest: d, Source: sub.Kind, Result: res}, nil
}
