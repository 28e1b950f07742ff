package settlement

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bettogether/internal/domain"
)

// Action names a privileged entry point on a market.
type Action string

const (
	ActionAttachToken     Action = "attach_token"
	ActionIncrementState  Action = "increment_state"
	ActionDetermineWinner Action = "determine_winner"
)

// Authorizer decides whether caller may perform action. It is consulted
// before any settlement logic runs so the policy can change without
// touching the state machine.
type Authorizer interface {
	Authorize(ctx context.Context, caller common.Address, action Action) error
}

// OwnerPolicy restricts token attachment and state increments to a single
// owner. Anyone may trigger DetermineWinner since the oracle answer is the
// only input.
type OwnerPolicy struct {
	Owner common.Address
}

func (p OwnerPolicy) Authorize(_ context.Context, caller common.Address, action Action) error {
	if action == ActionDetermineWinner || caller == p.Owner {
		return nil
	}
	return fmt.Errorf("%w: %s requires owner %s", domain.ErrUnauthorized, action, p.Owner.Hex())
}

// RolePolicy grants each action to an explicit set of callers. Actions with
// no entry are denied.
type RolePolicy struct {
	Grants map[Action][]common.Address
}

// NewRolePolicy returns an empty RolePolicy.
func NewRolePolicy() *RolePolicy {
	return &RolePolicy{Grants: make(map[Action][]common.Address)}
}

// Grant adds caller to the set allowed to perform action.
func (p *RolePolicy) Grant(action Action, caller common.Address) *RolePolicy {
	p.Grants[action] = append(p.Grants[action], caller)
	return p
}

func (p *RolePolicy) Authorize(_ context.Context, caller common.Address, action Action) error {
	for _, a := range p.Grants[action] {
		if a == caller {
			return nil
		}
	}
	return fmt.Errorf("%w: %s not granted to %s", domain.ErrUnauthorized, action, caller.Hex())
}

// OpenPolicy allows every caller. Used by the simulator.
type OpenPolicy struct{}

func (OpenPolicy) Authorize(context.Context, common.Address, Action) error { return nil }
