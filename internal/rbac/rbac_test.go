package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		role   Role
		action Action
		want   bool
	}{
		{RoleAdmin, ActionCreate, true},
		{RoleAdmin, ActionUpdate, true},
		{RoleUser, ActionRead, true},
		{RoleUser, ActionCreate, true},
		{RoleUser, ActionUpdate, true},
		{RoleDemo, ActionRead, true},
		{RoleDemo, ActionCreate, false},
		{RoleDemo, ActionUpdate, false},
		{Role("ghost"), ActionRead, false},
	}
	for _, c := range cases {
		if got := Can(c.role, c.action); got != c.want {
			t.Errorf("Can(%q, %q) = %v, want %v", c.role, c.action, got, c.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("admin"); got != RoleAdmin {
		t.Errorf("Normalize(admin) = %q", got)
	}
	if got := Normalize("moderator"); got != RoleDemo {
		t.Errorf("Normalize(moderator) = %q, want demo fallback", got)
	}
}
