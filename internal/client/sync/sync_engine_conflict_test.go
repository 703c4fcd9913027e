package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConflictPolicy(t *testing.T) {
	for _, s := range []string{"prompt", "local", "remote", "fail"} {
		p, err := ParseConflictPolicy(s)
		require.NoError(t, err)
		assert.Equal(t, ConflictPolicy(s), p)
	}

	p, err := ParseConflictPolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyPrompt, p)

	_, err = ParseConflictPolicy("newest")
	assert.Error(t, err)
}

func TestConflictResolverPolicies(t *testing.T) {
	neverCalled := DeciderFunc(func(context.Context, Conflict) (Decision, error) {
		t.Fatal("decider must not be consulted")
		return Decision{}, nil
	})
	c := Conflict{Path: "a.txt"}

	res, err := NewConflictResolver(PolicyLocal, neverCalled).Resolve(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, KeepLocal, res)

	res, err = NewConflictResolver(PolicyRemote, neverCalled).Resolve(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, KeepRemote, res)

	_, err = NewConflictResolver(PolicyFail, neverCalled).Resolve(context.Background(), c)
	assert.ErrorIs(t, err, ErrConflictUnresolved)
}

func TestConflictResolverAsksOncePerConflict(t *testing.T) {
	var asked []string
	decider := DeciderFunc(func(_ context.Context, c Conflict) (Decision, error) {
		asked = append(asked, c.Path)
		return Decision{Resolution: KeepRemote}, nil
	})
	resolver := NewConflictResolver(PolicyPrompt, decider)

	for _, p := range []string{"a", "b", "c"} {
		res, err := resolver.Resolve(context.Background(), Conflict{Path: p})
		require.NoError(t, err)
		assert.Equal(t, KeepRemote, res)
	}
	assert.Equal(t, []string{"a", "b", "c"}, asked)
	assert.Equal(t, ResolutionNone, resolver.Preferred())
}

func TestConflictResolverRemembersApplyToAll(t *testing.T) {
	calls := 0
	decider := DeciderFunc(func(context.Context, Conflict) (Decision, error) {
		calls++
		return Decision{Resolution: KeepLocal, ApplyToAll: true}, nil
	})
	resolver := NewConflictResolver(PolicyPrompt, decider)

	for _, p := range []string{"a", "b", "c"} {
		res, err := resolver.Resolve(context.Background(), Conflict{Path: p})
		require.NoError(t, err)
		assert.Equal(t, KeepLocal, res)
	}
	assert.Equal(t, 1, calls)
	assert.Equal(t, KeepLocal, resolver.Preferred())

	// a new resolver starts without a remembered answer
	fresh := NewConflictResolver(PolicyPrompt, decider)
	assert.Equal(t, ResolutionNone, fresh.Preferred())
}

func TestConflictResolverInvalidAnswers(t *testing.T) {
	answers := []Resolution{ResolutionNone, ResolutionNone, KeepRemote}
	calls := 0
	decider := DeciderFunc(func(context.Context, Conflict) (Decision, error) {
		r := answers[calls]
		calls++
		return Decision{Resolution: r}, nil
	})

	res, err := NewConflictResolver(PolicyPrompt, decider).Resolve(context.Background(), Conflict{Path: "a"})
	require.NoError(t, err)
	assert.Equal(t, KeepRemote, res)
	assert.Equal(t, 3, calls)

	calls = 0
	answers = []Resolution{ResolutionNone, ResolutionNone, ResolutionNone, KeepRemote}
	_, err = NewConflictResolver(PolicyPrompt, decider).Resolve(context.Background(), Conflict{Path: "a"})
	assert.ErrorIs(t, err, ErrConflictUnresolved)
	assert.Equal(t, maxInvalidDecisions, calls)
}

func TestConflictResolverDeciderError(t *testing.T) {
	boom := errors.New("input closed")
	decider := DeciderFunc(func(context.Context, Conflict) (Decision, error) {
		return Decision{}, boom
	})

	_, err := NewConflictResolver(PolicyPrompt, decider).Resolve(context.Background(), Conflict{Path: "a"})
	assert.ErrorIs(t, err, boom)
}

func TestConflictResolverDefaultsToFailClosed(t *testing.T) {
	_, err := NewConflictResolver(PolicyPrompt, nil).Resolve(context.Background(), Conflict{Path: "a"})
	assert.ErrorIs(t, err, ErrConflictUnresolved)
}
