package recommend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// HTTPScorer implements Scorer against the recommendation service's HTTP API.
type HTTPScorer struct {
	baseURL string
	client  *http.Client
}

// NewHTTPScorer creates a new HTTP scorer.
func NewHTTPScorer(baseURL string, timeout time.Duration) *HTTPScorer {
	return &HTTPScorer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type matchScoreResponse struct {
	Score        float64 `json:"score"`
	HasEmbedding bool    `json:"has_embedding"`
}

func (s *HTTPScorer) MatchScore(ctx context.Context, postID, subcontractorID uuid.UUID) (*float64, error) {
	params := url.Values{
		"post_id":          {postID.String()},
		"subcontractor_id": {subcontractorID.String()},
	}
	endpoint := s.baseURL + "/v1/match-score?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build match-score request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) {
			return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// No profile embedding for this subcontractor yet.
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrBadResponse, resp.StatusCode)
	}

	var body matchScoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if !body.HasEmbedding {
		return nil, nil
	}
	if body.Score < 0 || body.Score > 1 {
		return nil, fmt.Errorf("%w: score %f out of range", ErrBadResponse, body.Score)
	}
	return &body.Score, nil
}

var _ Scorer = (*HTTPScorer)(nil)
