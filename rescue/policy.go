package rescue

import (
	"fmt"
	"slices"

	"github.com/ardnew/softrescue/pkg"
)

// ModeValidator decides whether a rescue mode may be entered. On success
// it must call [State.Enter].
type ModeValidator interface {
	ValidateMode(mode Mode, st *State, bd *BootData) error
}

// Policy is the default [ModeValidator], driven by the owner's rescue
// configuration.
type Policy struct {
	// Allowed lists the modes the owner permits. An empty list permits
	// every known mode.
	Allowed []Mode
}

// ValidateMode implements [ModeValidator].
func (p *Policy) ValidateMode(mode Mode, st *State, bd *BootData) error {
	if _, ok := modeInfo(mode); !ok {
		return fmt.Errorf("mode %s: %w", mode, pkg.ErrBadMode)
	}
	if len(p.Allowed) > 0 && !slices.Contains(p.Allowed, mode) {
		return fmt.Errorf("mode %s not allowed by owner: %w", mode, pkg.ErrBadMode)
	}
	if mode == ModeOwnerBlock && !acceptsOwnerBlock(bd.OwnershipState) {
		return fmt.Errorf("mode %s in %s: %w", mode, bd.OwnershipState, pkg.ErrOwnershipInvalidState)
	}
	st.Enter(mode)
	return nil
}

func acceptsOwnerBlock(o OwnershipState) bool {
	return o.Unlocked() || o == OwnershipLockedUpdate
}
