package rbac

// Permission constants
const (
	PermCreateOrder    = "create_order"
	PermPayOrder       = "pay_order"
	PermConfirmRelease = "confirm_release"
	PermStartWork      = "start_work"
	PermCompleteWork   = "complete_work"
	PermOpenDispute    = "open_dispute"
	PermResolveDispute = "resolve_dispute"
	PermWriteReview    = "write_review"
)

// RolePermissions defines what each role can do. Arbiters intentionally
// cannot take part in the happy path; they only resolve disputes.
var RolePermissions = map[string][]string{
	"client": {
		PermCreateOrder, PermPayOrder, PermConfirmRelease, PermOpenDispute, PermWriteReview,
	},
	"specialist": {
		PermStartWork, PermCompleteWork, PermOpenDispute,
	},
	"arbiter": {
		PermResolveDispute,
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}
