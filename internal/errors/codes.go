package errors

// Error codes exposed to callers of the cart API.
// Format: CATEGORY_SPECIFIC_DETAIL

const (
	// ==================== Authentication (AUTH_) ====================
	AuthUnauthorized = "AUTH_UNAUTHORIZED"
	AuthTokenExpired = "AUTH_TOKEN_EXPIRED"
	AuthTokenInvalid = "AUTH_TOKEN_INVALID"
	AuthTokenRevoked = "AUTH_TOKEN_REVOKED"

	// ==================== Authorization (AUTHZ_) ====================
	AuthzForbidden    = "AUTHZ_FORBIDDEN"
	AuthzRoleNotFound = "AUTHZ_ROLE_NOT_FOUND"

	// ==================== Validation (VALIDATION_) ====================
	ValidationInvalidInput = "VALIDATION_INVALID_INPUT"
	ValidationInvalidRange = "VALIDATION_INVALID_RANGE"

	// ==================== Cart (CART_) ====================
	CartNotFound  = "CART_NOT_FOUND"
	CartExists    = "CART_EXISTS"
	CartFinalized = "CART_FINALIZED"
	LineNotFound  = "CART_LINE_NOT_FOUND"

	// ==================== Store (STORE_) ====================
	StoreUnavailable = "STORE_UNAVAILABLE"
	StoreConflict    = "STORE_CONFLICT"

	// ==================== Internal (INTERNAL_) ====================
	InternalServerError = "INTERNAL_SERVER_ERROR"
)
