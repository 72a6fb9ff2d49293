package subscription

import (
	"errors"
	"fmt"
)

// lifecycleEvent triggers a status transition.
type lifecycleEvent string

const (
	eventActivate lifecycleEvent = "activate"
	eventCancel   lifecycleEvent = "cancel"
	eventExpire   lifecycleEvent = "expire"
)

// transitions is the lifecycle table: [from][event] -> to.
// An entry whose target equals its source is an idempotent redelivery.
var transitions = map[Status]map[lifecycleEvent]Status{
	StatusPending: {
		eventActivate: StatusActive,
	},
	StatusActive: {
		eventActivate: StatusActive,
		eventCancel:   StatusCancel,
		eventExpire:   StatusExpired,
	},
	// Terminal states absorb repeated terminal events.
	StatusCancel: {
		eventCancel: StatusCancel,
		eventExpire: StatusCancel,
	},
	StatusExpired: {
		eventCancel: StatusExpired,
		eventExpire: StatusExpired,
	},
}

// next resolves the target status. changed is false for idempotent redelivery.
func next(from Status, ev lifecycleEvent) (to Status, changed bool, err error) {
	to, ok := transitions[from][ev]
	if !ok {
		return from, false, errors.Join(ErrConflict,
			fmt.Errorf("%w: no transition from %q on %q", ErrInvalidTransition, from, ev))
	}
	return to, to != from, nil
}

func deactivationEvent(reason Reason) (lifecycleEvent, error) {
	switch reason {
	case ReasonCancel:
		return eventCancel, nil
	case ReasonExpired:
		return eventExpire, nil
	}
	return "", errors.Join(ErrInvalidArgument, fmt.Errorf("unknown deactivation reason %q", reason))
}
