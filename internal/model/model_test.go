package model

import "testing"

func TestUserDisplayName(t *testing.T) {
	tests := []struct {
		name string
		user User
		want string
	}{
		{"full name", User{FirstName: "Ada", LastName: "Lovelace", Username: "ada", Email: "ada@example.com"}, "Ada Lovelace"},
		{"first only", User{FirstName: "Ada", Username: "ada"}, "Ada"},
		{"username", User{Username: "ada", Email: "ada@example.com"}, "ada"},
		{"email", User{Email: "ada@example.com"}, "ada@example.com"},
		{"blank names", User{FirstName: "  ", LastName: "", Email: "x@example.com"}, "x@example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.user.DisplayName(); got != tt.want {
				t.Errorf("DisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientTypeReferencePrefix(t *testing.T) {
	if got := ClientIndividual.ReferencePrefix(); got != "INDI" {
		t.Errorf("individual prefix = %q", got)
	}
	if got := ClientCorporate.ReferencePrefix(); got != "CORP" {
		t.Errorf("corporate prefix = %q", got)
	}
}

func TestClientName(t *testing.T) {
	c := Client{ClientType: ClientCorporate, CorporateName: "Acme Ltd", FullName: "John"}
	if c.Name() != "Acme Ltd" {
		t.Errorf("corporate name = %q", c.Name())
	}
	c = Client{ClientType: ClientIndividual, FullName: "Jane Doe"}
	if c.Name() != "Jane Doe" {
		t.Errorf("individual name = %q", c.Name())
	}
}

func TestEnumValidation(t *testing.T) {
	if !TenantKindAgent.Valid() || TenantKind("shop").Valid() {
		t.Error("tenant kind validation")
	}
	if !RoleCompliance.Valid() || Role("root").Valid() {
		t.Error("role validation")
	}
	if !AssessmentSubmitted.Valid() || AssessmentStatus("done").Valid() {
		t.Error("assessment status validation")
	}
	if !AssessmentApproved.Reviewed() || AssessmentPending.Reviewed() {
		t.Error("reviewed")
	}
	if !RiskHigh.Valid() || RiskLevel("extreme").Valid() {
		t.Error("risk level validation")
	}
	if !FieldRadio.Valid() || FieldType("checkbox").Valid() {
		t.Error("field type validation")
	}
}
