// Package conflict decides what happens when a queued local change
// collides with a newer remote version of the same entity.
package conflict

import (
	"encoding/json"

	apperrors "github.com/carebridge/syncengine/internal/errors"
	"github.com/carebridge/syncengine/internal/logging"
	"github.com/carebridge/syncengine/internal/models"
)

// Strategy selects how a conflict is resolved.
type Strategy string

const (
	StrategyClientWins Strategy = "client_wins"
	StrategyServerWins Strategy = "server_wins"
	StrategyMerge      Strategy = "merge"
	StrategyManual     Strategy = "manual"
)

// Outcome is the result of a resolution attempt. Manual outcomes carry
// no resolved payload; both sides are returned so they can be surfaced
// to an operator.
type Outcome struct {
	Resolved json.RawMessage
	Manual   bool
	Local    json.RawMessage
	Remote   json.RawMessage
}

// Resolver applies a conflict resolution strategy to a queued action
// and the remote payload it collided with.
type Resolver struct{}

func NewResolver() *Resolver {
	return &Resolver{}
}

// NeedsResolution reports whether the remote copy changed after the
// local action was enqueued. The comparison trusts both timestamps;
// device clock skew can mask or invent a conflict, and the server
// report is the authority on whether one exists at all.
func (r *Resolver) NeedsResolution(action *models.Action, remoteModifiedAt int64) bool {
	return remoteModifiedAt > action.EnqueuedAt
}

// Resolve produces the payload to apply, or a manual outcome when the
// strategy defers to an operator.
func (r *Resolver) Resolve(local *models.Action, remote json.RawMessage, strategy Strategy) (*Outcome, error) {
	out := &Outcome{
		Local:  local.Payload,
		Remote: remote,
	}

	switch strategy {
	case StrategyClientWins:
		out.Resolved = local.Payload

	case StrategyServerWins:
		out.Resolved = remote

	case StrategyMerge:
		merged, err := mergePayloads(local.Payload, remote)
		if err != nil {
			return nil, err
		}
		out.Resolved = merged

	case StrategyManual:
		out.Manual = true

	default:
		return nil, apperrors.Newf(apperrors.ErrInvalid,
			"unknown conflict strategy %q", strategy)
	}

	logging.Debug("conflict resolved", map[string]interface{}{
		"action_id": local.ID,
		"entity_id": local.EntityID,
		"strategy":  string(strategy),
		"manual":    out.Manual,
	})
	return out, nil
}
