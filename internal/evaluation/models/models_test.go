package models

import (
	"math"
	"testing"
	"time"

	id "arbor/pkg/domain"
	dErrors "arbor/pkg/domain-errors"
)

func entry(criterion string, weight, score float64) *ScoreEntry {
	return &ScoreEntry{
		ID:          id.NewScoreEntryID(),
		EvaluatorID: id.NewMemberID(),
		Criterion:   criterion,
		Weight:      weight,
		Score:       score,
	}
}

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestNewScoreEntryValidation(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name      string
		criterion string
		weight    float64
		score     float64
		wantCode  dErrors.Code
	}{
		{"valid", "quality", 1.0, 0.9, ""},
		{"score at lower bound", "quality", 1.0, 0, ""},
		{"score at upper bound", "quality", 1.0, 1, ""},
		{"empty criterion", "   ", 1.0, 0.5, dErrors.CodeValidation},
		{"zero weight", "quality", 0, 0.5, dErrors.CodeValidation},
		{"negative weight", "quality", -1, 0.5, dErrors.CodeValidation},
		{"score above one", "quality", 1.0, 1.1, dErrors.CodeValidation},
		{"negative score", "quality", 1.0, -0.1, dErrors.CodeValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewScoreEntry(id.NewScoreEntryID(), id.NewEvaluationID(), id.NewMemberID(),
				tc.criterion, tc.weight, tc.score, "", now)
			if tc.wantCode == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !dErrors.HasCode(err, tc.wantCode) {
				t.Fatalf("want code %s, got %v", tc.wantCode, err)
			}
		})
	}
}

func TestAggregateWeightsScores(t *testing.T) {
	cases := []struct {
		name    string
		entries []*ScoreEntry
		want    float64
	}{
		{"empty", nil, 0},
		{"single entry", []*ScoreEntry{entry("quality", 2, 0.7)}, 0.7},
		{
			"equal weights average",
			[]*ScoreEntry{entry("quality", 1, 0.4), entry("timeliness", 1, 0.8)},
			0.6,
		},
		{
			"heavier weight dominates",
			[]*ScoreEntry{entry("quality", 3, 1.0), entry("timeliness", 1, 0.0)},
			0.75,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Aggregate(tc.entries); !almostEqual(got, tc.want) {
				t.Fatalf("Aggregate() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCriterionAveragesIgnoreWeights(t *testing.T) {
	entries := []*ScoreEntry{
		entry("quality", 5, 0.4),
		entry("quality", 1, 0.8),
		entry("timeliness", 1, 1.0),
	}
	averages := CriterionAverages(entries)
	if len(averages) != 2 {
		t.Fatalf("want 2 criteria, got %d", len(averages))
	}
	if !almostEqual(averages["quality"], 0.6) {
		t.Fatalf("quality average = %v, want 0.6", averages["quality"])
	}
	if !almostEqual(averages["timeliness"], 1.0) {
		t.Fatalf("timeliness average = %v, want 1.0", averages["timeliness"])
	}
}

func TestDeriveExecutorSignal(t *testing.T) {
	cases := []struct {
		name          string
		aggregate     float64
		wantType      SignalType
		wantMagnitude float64
	}{
		{"at positive threshold", 0.8, SignalPositive, 1.2},
		{"perfect score", 1.0, SignalPositive, 1.5},
		{"neutral band", 0.5, SignalNeutral, 0.5},
		{"at negative threshold stays neutral", 0.4, SignalNeutral, 0.5},
		{"below negative threshold", 0.2, SignalNegative, -0.8},
		{"just below negative threshold", 0.39, SignalNegative, -0.61},
		{"zero score", 0.0, SignalNegative, -1.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gotType, gotMagnitude := DeriveExecutorSignal(tc.aggregate, 0.8, 0.4)
			if gotType != tc.wantType {
				t.Fatalf("type = %s, want %s", gotType, tc.wantType)
			}
			if !almostEqual(gotMagnitude, tc.wantMagnitude) {
				t.Fatalf("magnitude = %v, want %v", gotMagnitude, tc.wantMagnitude)
			}
		})
	}
}

func TestNewEvaluationRequiresExecutor(t *testing.T) {
	_, err := NewEvaluation(id.NewEvaluationID(), id.NewOrgID(), id.NewZoneID(),
		id.ProposalID{}, id.MemberID{}, time.Now())
	if !dErrors.HasCode(err, dErrors.CodeValidation) {
		t.Fatalf("want validation error, got %v", err)
	}
}
