package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUnknownProviderScoresPerfect(t *testing.T) {
	s := New()
	require.Equal(t, 1.0, s.View("unknown").Score(time.Now()))
}

func TestErrorLowersScore(t *testing.T) {
	s := New()
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }

	s.RecordOutcome("p1", OutcomeError, 50)
	require.Less(t, s.View("p1").Score(now), 1.0)
}

func TestScoreRecoversAfterDecayWindow(t *testing.T) {
	s := New()
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }
	s.RecordOutcome("p1", OutcomeError, 50)

	scoreSoon := s.View("p1").Score(now.Add(time.Second))
	scoreLater := s.View("p1").Score(now.Add(time.Hour))
	require.Greater(t, scoreLater, scoreSoon)
}

func TestSuccessResetsConsecutiveOK(t *testing.T) {
	s := New()
	s.RecordOutcome("p1", OutcomeError, 10)
	s.RecordOutcome("p1", OutcomeSuccess, 10)
	v := s.View("p1")
	require.Equal(t, 1, v.ConsecutiveOK)
}
