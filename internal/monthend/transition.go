package monthend

import (
	"errors"
	"fmt"

	"backoffice/internal/core"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// CheckTransition enforces the month-end state machine:
//
//	draft    -> ready     manual or batch
//	ready    -> complete  report or batch
//	any      -> draft     manual override
//	same     -> same      no-op
func CheckTransition(from, to core.Status, src core.Source) error {
	if !to.Valid() {
		return core.E(core.KindValidation, "monthend.transition", fmt.Errorf("%w: %q", core.ErrInvalidStatus, to))
	}
	if from == to {
		return nil
	}

	var allowed bool
	switch {
	case to == core.StatusDraft:
		allowed = src == core.SourceManual
	case from == core.StatusDraft && to == core.StatusReady:
		allowed = src == core.SourceManual || src == core.SourceBatch
	case from == core.StatusReady && to == core.StatusComplete:
		allowed = src == core.SourceReport || src == core.SourceBatch
	}
	if !allowed {
		return core.E(core.KindValidation, "monthend.transition",
			fmt.Errorf("%w: %s -> %s via %s", ErrInvalidTransition, from, to, src))
	}
	return nil
}
