// Package recommend is the boundary to the recommendation collaborator. The
// engine never computes match scores itself: it asks the external ranker for
// one at request-creation time and stores the answer as opaque metadata.
package recommend

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Sentinel errors for scorer failures.
var (
	ErrUnreachable = errors.New("recommendation service unreachable")
	ErrBadResponse = errors.New("recommendation service returned invalid response")
)

// Scorer supplies the match score for a (post, subcontractor) pair.
// A nil score with nil error means the subcontractor has no profile embedding
// yet; that is not a failure.
type Scorer interface {
	MatchScore(ctx context.Context, postID, subcontractorID uuid.UUID) (*float64, error)
}

// Disabled is used when no recommendation service is configured.
type Disabled struct{}

func (Disabled) MatchScore(_ context.Context, _, _ uuid.UUID) (*float64, error) {
	return nil, nil
}

var _ Scorer = Disabled{}
