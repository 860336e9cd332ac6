package gardener_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbor/internal/gardener"
	"arbor/internal/zone/models"
	id "arbor/pkg/domain"
	"arbor/pkg/platform/circuit"
)

func TestHTTPScorerSuccess(t *testing.T) {
	memberID := id.NewMemberID()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.NotEmpty(t, body["proposal_id"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"scores": []map[string]any{{"member_id": memberID.String(), "score": 0.75}},
		})
	}))
	defer srv.Close()

	scorer := gardener.NewHTTPScorer(srv.URL, "secret")
	scores, err := scorer.Score(context.Background(), gardener.ScoreRequest{
		ProposalID: id.NewProposalID(),
		ZoneID:     id.NewZoneID(),
		Candidates: []gardener.Candidate{{MemberID: memberID, Role: models.RoleApprover}},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.75, scores[memberID], 1e-9)
}

func TestHTTPScorerErrorOpensBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	breaker := circuit.New("test-scorer", circuit.WithFailureThreshold(2))
	scorer := gardener.NewHTTPScorer(srv.URL, "", gardener.WithScorerBreaker(breaker))

	req := gardener.ScoreRequest{ProposalID: id.NewProposalID(), ZoneID: id.NewZoneID()}
	for i := 0; i < 2; i++ {
		_, err := scorer.Score(context.Background(), req)
		require.Error(t, err)
	}
	assert.True(t, breaker.IsOpen())

	// Open breaker still probes so it can recover.
	_, err := scorer.Score(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPScorerRecoversAfterSuccesses(t *testing.T) {
	var healthy atomic.Bool
	memberID := id.NewMemberID()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"scores": []map[string]any{{"member_id": memberID.String(), "score": 1.0}},
		})
	}))
	defer srv.Close()

	breaker := circuit.New("test-scorer", circuit.WithFailureThreshold(1), circuit.WithSuccessThreshold(1))
	scorer := gardener.NewHTTPScorer(srv.URL, "", gardener.WithScorerBreaker(breaker))

	req := gardener.ScoreRequest{ProposalID: id.NewProposalID(), ZoneID: id.NewZoneID()}
	_, err := scorer.Score(context.Background(), req)
	require.Error(t, err)
	require.True(t, breaker.IsOpen())

	healthy.Store(true)
	scores, err := scorer.Score(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, breaker.IsOpen())
	assert.InDelta(t, 1.0, scores[memberID], 1e-9)
}
