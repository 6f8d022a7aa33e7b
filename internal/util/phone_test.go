package util

import "testing"

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+234 801 234 5678", "+2348012345678"},
		{"234-801-234-5678", "+2348012345678"},
		{"(234) 8012345678", "+2348012345678"},
		{"+2348012345678", "+2348012345678"},
		{"2348012345678", "+2348012345678"},
		{"  +1 555 123 4567 ", "+15551234567"},
		{"", ""},
		{"abc", ""},
	}

	for _, tt := range tests {
		if got := NormalizePhone(tt.in); got != tt.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsEmail(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"ada@example.com", true},
		{"a@b", true},
		{"@example.com", false},
		{"ada@", false},
		{"+2348012345678", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsEmail(tt.in); got != tt.want {
			t.Errorf("IsEmail(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeTarget(t *testing.T) {
	if got := NormalizeTarget("  Ada@Example.COM "); got != "ada@example.com" {
		t.Errorf("NormalizeTarget(email) = %q", got)
	}
	if got := NormalizeTarget("234 801 234 5678"); got != "+2348012345678" {
		t.Errorf("NormalizeTarget(phone) = %q", got)
	}
}
