package rbac

import "testing"

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role string
		perm string
		want bool
	}{
		{"client", PermPayOrder, true},
		{"client", PermConfirmRelease, true},
		{"client", PermResolveDispute, false},
		{"specialist", PermCompleteWork, true},
		{"specialist", PermPayOrder, false},
		{"arbiter", PermResolveDispute, true},
		{"arbiter", PermPayOrder, false},
		{"unknown", PermPayOrder, false},
	}

	for _, tt := range tests {
		if got := HasPermission(tt.role, tt.perm); got != tt.want {
			t.Errorf("HasPermission(%q, %q) = %v, want %v", tt.role, tt.perm, got, tt.want)
		}
	}
}
