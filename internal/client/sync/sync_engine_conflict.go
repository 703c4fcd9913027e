package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Resolution is the side that wins a conflict.
type Resolution int

const (
	ResolutionNone Resolution = iota
	KeepLocal
	KeepRemote
)

func (r Resolution) String() string {
	switch r {
	case KeepLocal:
		return "local"
	case KeepRemote:
		return "remote"
	default:
		return "none"
	}
}

// ConflictPolicy selects how conflicts are decided.
type ConflictPolicy string

const (
	PolicyPrompt ConflictPolicy = "prompt"
	PolicyLocal  ConflictPolicy = "local"
	PolicyRemote ConflictPolicy = "remote"
	PolicyFail   ConflictPolicy = "fail"
)

func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch p := ConflictPolicy(s); p {
	case PolicyPrompt, PolicyLocal, PolicyRemote, PolicyFail:
		return p, nil
	case "":
		return PolicyPrompt, nil
	default:
		return "", fmt.Errorf("unknown conflict policy %q", s)
	}
}

// Conflict describes a path changed on both sides since its last sync.
type Conflict struct {
	Path        string
	RecordedRev string
	RemoteRev   string
	SyncedMtime time.Time
	LocalMtime  time.Time
}

// Decision is a decider's answer. ApplyToAll makes the answer stick for the
// remaining conflicts of the run.
type Decision struct {
	Resolution Resolution
	ApplyToAll bool
}

// Decider is asked once per conflicted path when the policy is prompt.
type Decider interface {
	Decide(ctx context.Context, c Conflict) (Decision, error)
}

// DeciderFunc adapts a function to Decider.
type DeciderFunc func(ctx context.Context, c Conflict) (Decision, error)

func (f DeciderFunc) Decide(ctx context.Context, c Conflict) (Decision, error) {
	return f(ctx, c)
}

// FailClosed never decides. It is used when no interactive input is
// available.
type FailClosed struct{}

func (FailClosed) Decide(_ context.Context, c Conflict) (Decision, error) {
	return Decision{}, fmt.Errorf("%w: %s", ErrConflictUnresolved, c.Path)
}

const maxInvalidDecisions = 3

// ConflictResolver applies the policy, consults the decider and remembers a
// "for all remaining" answer until the run ends.
type ConflictResolver struct {
	policy    ConflictPolicy
	decider   Decider
	preferred Resolution
}

func NewConflictResolver(policy ConflictPolicy, decider Decider) *ConflictResolver {
	if decider == nil {
		decider = FailClosed{}
	}
	return &ConflictResolver{policy: policy, decider: decider}
}

// Preferred returns the remembered answer, ResolutionNone if there is none.
func (r *ConflictResolver) Preferred() Resolution {
	return r.preferred
}

// Resolve decides one conflict. Callers must not call it concurrently.
func (r *ConflictResolver) Resolve(ctx context.Context, c Conflict) (Resolution, error) {
	if r.preferred != ResolutionNone {
		return r.preferred, nil
	}

	switch r.policy {
	case PolicyLocal:
		return KeepLocal, nil
	case PolicyRemote:
		return KeepRemote, nil
	case PolicyFail:
		return ResolutionNone, fmt.Errorf("%w: %s", ErrConflictUnresolved, c.Path)
	}

	for attempt := 1; ; attempt++ {
		d, err := r.decider.Decide(ctx, c)
		if err != nil {
			return ResolutionNone, err
		}

		if d.Resolution == KeepLocal || d.Resolution == KeepRemote {
			if d.ApplyToAll {
				r.preferred = d.Resolution
				slog.Info("sync", "op", OpConflict, "path", c.Path, "preferred", d.Resolution.String(), "scope", "remaining conflicts")
			}
			return d.Resolution, nil
		}

		if attempt >= maxInvalidDecisions {
			return ResolutionNone, fmt.Errorf("%w: %s: no valid answer", ErrConflictUnresolved, c.Path)
		}
	}
}
