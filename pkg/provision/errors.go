package provision

import "errors"

var (
	// ErrInvalidPlanTier is returned for a plan outside the known tiers
	ErrInvalidPlanTier = errors.New("invalid plan tier")

	// ErrInvalidBillingPeriod is returned for an unknown billing period
	ErrInvalidBillingPeriod = errors.New("invalid billing period")

	// ErrIdentityExists is returned when an identity already exists for an email
	ErrIdentityExists = errors.New("identity already exists")

	// ErrIdentityNotFound is returned when no identity matches the lookup
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrAccountExists is returned when an account already exists for an identity
	ErrAccountExists = errors.New("account already exists")

	// ErrAccountNotFound is returned when no account matches the lookup
	ErrAccountNotFound = errors.New("account not found")

	// ErrCustomerRefSet is returned when attaching a customer reference to an
	// account that already carries a different one
	ErrCustomerRefSet = errors.New("customer reference already set")

	// ErrSignupNotFound is returned when a vault token matches no pending signup
	ErrSignupNotFound = errors.New("pending signup not found")

	// ErrPlatformUnavailable is returned when the data platform cannot be reached
	ErrPlatformUnavailable = errors.New("data platform unavailable")
)
