package policy_test

import (
	"testing"

	domain "github.com/openassoc/account-provisioning/internal/domain/provisioning"
	"github.com/openassoc/account-provisioning/internal/infrastructure/policy"
)

func TestCanCreateUsers(t *testing.T) {
	t.Parallel()

	p := policy.NewRolePolicy()

	cases := []struct {
		name  string
		roles []string
		want  bool
	}{
		{"system manager", []string{"System Manager"}, true},
		{"association administrator", []string{"Association Administrator"}, true},
		{"plain member", []string{"Association Member"}, false},
		{"no roles", nil, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			principal := domain.Principal{Email: "p@example.com", Roles: tc.roles}
			if got := p.CanCreateUsers(principal); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestCanGrantRole(t *testing.T) {
	t.Parallel()

	p := policy.NewRolePolicy()

	manager := domain.Principal{Email: "m@example.com", Roles: []string{"System Manager"}}
	if !p.CanGrantRole(manager, "System Manager") {
		t.Fatal("system manager may grant anything")
	}

	admin := domain.Principal{Email: "a@example.com", Roles: []string{"Association Administrator"}}
	if !p.CanGrantRole(admin, "Association Volunteer") {
		t.Fatal("administrator may grant association roles")
	}
	if p.CanGrantRole(admin, "System Manager") {
		t.Fatal("administrator must not grant System Manager")
	}

	member := domain.Principal{Email: "p@example.com", Roles: []string{"Association Member"}}
	if p.CanGrantRole(member, "Association Member") {
		t.Fatal("plain member may not grant roles")
	}
}
