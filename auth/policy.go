package auth

import (
	"fmt"

	"github.com/antonmedv/expr/vm"
	"github.com/tcriess/lightspeed-whiteboard/config"
	"github.com/tcriess/lightspeed-whiteboard/filter"
	"github.com/tcriess/lightspeed-whiteboard/globals"
	"github.com/tcriess/lightspeed-whiteboard/types"
)

// Policy decides the privileged room actions with the expressions configured in the policy section. An action
// without an expression is only allowed to the room owner.
type Policy struct {
	programs map[string]*vm.Program
}

func NewPolicy(cfg config.PolicyConfig) (*Policy, error) {
	p := &Policy{programs: make(map[string]*vm.Program)}
	for action, expression := range map[string]string{
		types.ActionClear:   cfg.Clear,
		types.ActionRestore: cfg.Restore,
	} {
		if expression == "" {
			continue
		}
		prog, err := filter.Compile(expression)
		if err != nil {
			return nil, fmt.Errorf("invalid %s policy %q: %w", action, expression, err)
		}
		p.programs[action] = prog
	}
	return p, nil
}

func (p *Policy) Allowed(action string, room *types.Room, user *types.User) (bool, error) {
	if room == nil || user == nil || user.Id == "" {
		return false, nil
	}
	prog, ok := p.programs[action]
	if !ok {
		return user.Id == room.OwnerId, nil
	}
	allowed, err := filter.Run(prog, filter.NewEnv(action, room, user))
	if err != nil {
		globals.AppLogger.Error("could not run policy", "action", action, "room", room.Id, "error", err)
		return false, err
	}
	return allowed, nil
}
