package quota

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAvailableWithNoDisable(t *testing.T) {
	s := New()
	s.Register("p1", Static{AuthType: "api_key"})
	v := s.View("p1")
	require.True(t, v.Available(time.Now()))
}

func TestRecordError429TriggersCooldown(t *testing.T) {
	s := New()
	s.Register("p1", Static{})
	s.RecordError("p1", ErrorEvent{StatusCode: 429})

	v := s.View("p1")
	require.False(t, v.Available(time.Now()))
	require.Equal(t, ModeCooldown, v.DisabledMode)
	require.WithinDuration(t, time.Now().Add(30*time.Minute), v.DisabledUntil, 2*time.Second)
}

func TestRecordError401TriggersLongerCooldown(t *testing.T) {
	s := New()
	s.Register("p1", Static{})
	s.RecordError("p1", ErrorEvent{StatusCode: 401})

	v := s.View("p1")
	require.False(t, v.Available(time.Now()))
	require.WithinDuration(t, time.Now().Add(time.Hour), v.DisabledUntil, 2*time.Second)
}

func TestConsecutiveErrorsTriggerDisable(t *testing.T) {
	s := New()
	s.Register("p1", Static{})
	for i := 0; i < 8; i++ {
		s.RecordError("p1", ErrorEvent{StatusCode: 500})
	}
	v := s.View("p1")
	require.False(t, v.Available(time.Now()))
}

func TestRecordSuccessResetsConsecutiveErrors(t *testing.T) {
	s := New()
	s.Register("p1", Static{})
	s.RecordError("p1", ErrorEvent{StatusCode: 500})
	s.RecordError("p1", ErrorEvent{StatusCode: 500})
	s.RecordSuccess("p1", 0)

	v := s.View("p1")
	require.Equal(t, 0, v.ConsecutiveErrors)
}

func TestDisableExpiresAfterCooldown(t *testing.T) {
	s := New()
	s.now = func() time.Time { return time.Unix(1000, 0) }
	s.Register("p1", Static{})
	s.RecordError("p1", ErrorEvent{StatusCode: 429})

	require.False(t, s.View("p1").Available(time.Unix(1000, 0)))
	require.True(t, s.View("p1").Available(time.Unix(1000, 0).Add(31*time.Minute)))
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/quota.json"

	s := New()
	s.Register("p1", Static{AuthType: "oauth"})
	s.RecordUsage("p1", 10)
	require.NoError(t, s.SaveToFile(path))

	s2 := New()
	require.NoError(t, s2.LoadFromFile(path))
	require.Equal(t, int64(10), s2.View("p1").RequestedTokens)
}

func TestLoadFromMissingFileIsNotError(t *testing.T) {
	s := New()
	require.NoError(t, s.LoadFromFile("/nonexistent/path/quota.json"))
}
