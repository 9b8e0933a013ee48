package order

import "fmt"

var allowedTransitions = map[OrderStatus]map[OrderStatus]bool{
	StatusPending: {
		StatusConfirmed: true,
		StatusCancelled: true,
	},
	StatusConfirmed: {
		StatusPreparing: true,
		StatusCancelled: true,
	},
	StatusPreparing: {
		StatusReadyForDelivery: true,
		StatusCancelled:        true,
	},
	StatusReadyForDelivery: {
		StatusOutForDelivery: true,
		StatusCancelled:      true,
	},
	StatusOutForDelivery: {
		StatusDelivered: true,
		StatusCancelled: true,
	},
	StatusDelivered: {},
	StatusCancelled: {},
}

// CanTransition reports whether the table has an edge from -> to.
func CanTransition(from, to OrderStatus) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// IsTerminal reports whether status has no outgoing edges.
func (os OrderStatus) IsTerminal() bool {
	return len(allowedTransitions[os]) == 0
}

// authorizeTransition applies the role policy on top of the transition table.
// Customers may only cancel orders they own; staff may request any destination.
func authorizeTransition(actor Actor, o *Order, target OrderStatus) error {
	switch actor.Role {
	case RoleCustomer:
		if o.OwnerID != actor.ID {
			return fmt.Errorf("%w: order %s belongs to another customer", ErrForbidden, o.ID)
		}
		if target != StatusCancelled {
			return fmt.Errorf("%w: customers can only cancel orders", ErrForbidden)
		}
		return nil
	case RoleStaffContent, RoleStaffSuper:
		return nil
	default:
		return fmt.Errorf("%w: unknown role %q", ErrForbidden, actor.Role)
	}
}

// validateTransition checks target against the table for the given current status.
func validateTransition(current, target OrderStatus) error {
	if !CanTransition(current, target) {
		return &TransitionError{Current: current, Target: target}
	}
	return nil
}
