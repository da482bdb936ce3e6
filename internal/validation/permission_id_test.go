package validation

import (
	"strings"
	"testing"
)

func TestValidPermissionID_Valid(t *testing.T) {
	valids := []string{
		"a",
		"ab",
		"admin",
		"team:moderator",
		"read_reports.v2",
		strings.Repeat("a", 64),
	}
	for _, v := range valids {
		if !ValidPermissionID(v) {
			t.Fatalf("expected valid: %q", v)
		}
	}
}

func TestValidPermissionID_Invalid(t *testing.T) {
	invalids := []string{
		"",
		"$admin", // prefijo reservado a system permissions
		":lead",
		"trail:",
		"con espacio",
		"UPPER",
		"semicolon;hack",
		strings.Repeat("a", 65),
	}
	for _, v := range invalids {
		if ValidPermissionID(v) {
			t.Fatalf("expected invalid: %q", v)
		}
	}
}
