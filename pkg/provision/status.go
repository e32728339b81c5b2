package provision

// SubscriptionStatus is the local subscription state machine.
type SubscriptionStatus string

const (
	// StatusTrialing means the subscription is active but not yet billed.
	StatusTrialing SubscriptionStatus = "trialing"
	// StatusActive means the subscription is paid up.
	StatusActive SubscriptionStatus = "active"
	// StatusPastDue means the last payment attempt failed.
	StatusPastDue SubscriptionStatus = "past_due"
	// StatusCanceled is terminal; reactivation requires a new checkout.
	StatusCanceled SubscriptionStatus = "canceled"
	// StatusUnpaid is terminal; reactivation requires a new checkout.
	StatusUnpaid SubscriptionStatus = "unpaid"
)

// MapGatewayStatus maps a gateway subscription status onto the local state
// machine. Unknown values default to active: a paying customer must never be
// stranded in an undefined state.
func MapGatewayStatus(gateway string) SubscriptionStatus {
	switch SubscriptionStatus(gateway) {
	case StatusTrialing, StatusActive, StatusPastDue, StatusCanceled, StatusUnpaid:
		return SubscriptionStatus(gateway)
	}
	return StatusActive
}

// Terminal reports whether the status has no outgoing transitions in this
// pipeline.
func (s SubscriptionStatus) Terminal() bool {
	return s == StatusCanceled || s == StatusUnpaid
}

// Entitled reports whether the status grants access to paid surfaces.
func (s SubscriptionStatus) Entitled() bool {
	return s == StatusActive || s == StatusTrialing
}
