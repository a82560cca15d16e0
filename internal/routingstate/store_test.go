package routingstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBindAndLookup(t *testing.T) {
	s := New()
	s.Bind("session-1", "p1")

	got, ok := s.Lookup("session-1")
	require.True(t, ok)
	require.Equal(t, "p1", got)
}

func TestBindingExpires(t *testing.T) {
	s := New()
	s.BindTTL("session-1", "p1", 5*time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	_, ok := s.Lookup("session-1")
	require.False(t, ok)
}

func TestClearRemovesBinding(t *testing.T) {
	s := New()
	s.Bind("session-1", "p1")
	s.Clear("session-1")

	_, ok := s.Lookup("session-1")
	require.False(t, ok)
}

func TestShadowCompareNeverMutates(t *testing.T) {
	s := New()
	s.Bind("session-1", "p1")

	result := s.ShadowCompare("session-1", "p2")
	require.True(t, result.HadBinding)
	require.False(t, result.Agreed)
	require.Equal(t, "p1", result.Bound)

	// Still bound to p1 — the shadow compare did not override it.
	got, ok := s.Lookup("session-1")
	require.True(t, ok)
	require.Equal(t, "p1", got)
}

func TestShadowCompareNoBinding(t *testing.T) {
	s := New()
	result := s.ShadowCompare("unknown-session", "p2")
	require.False(t, result.HadBinding)
	require.False(t, result.Agreed)
}
