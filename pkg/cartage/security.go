package cartage

// Authorization actions evaluated by Cartage and Cart.
const (
	ActionCartExists          = "CartExists"
	ActionRegisterCart        = "RegisterCart"
	ActionGetCart             = "GetCart"
	ActionGetCartList         = "GetCartList"
	ActionDeleteCart          = "DeleteCart"
	ActionAddItems            = "AddItemsToCart"
	ActionUpdateLine          = "UpdateCartLine"
	ActionSetLineAttribute    = "SetCartLineAttribute"
	ActionDeleteLineAttribute = "DeleteCartLineAttribute"
	ActionRemoveLine          = "RemoveCartLine"
	ActionGetLine             = "GetCartLine"
	ActionGetLines            = "GetCartLines"
	ActionGetSummary          = "GetCartSummary"
	ActionClear               = "ClearCart"
	ActionFinalize            = "FinalizeCart"
)

// Identity identifies the acting user. Its Identifier is recorded as the
// create/modify user of every write.
type Identity struct {
	Identifier string
}

// User is the caller on whose behalf an operation runs.
type User interface {
	Identity() Identity
	// UserIsAuthorized decides whether action may run against objects (nil
	// when the action is not object-scoped) given context (may be nil).
	UserIsAuthorized(action string, objects []string, context map[string]string) bool
}

// SecurityManager supplies the current caller.
type SecurityManager interface {
	CurrentUser() User
}
