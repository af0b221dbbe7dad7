package validation

import "testing"

func TestIsValidAddress(t *testing.T) {
	tests := []struct {
		addr  string
		valid bool
	}{
		{"0x1234567890123456789012345678901234567890", true},
		{"1234567890123456789012345678901234567890", true}, // no prefix accepted
		{"0x12345678901234567890123456789012345678", false},
		{"0xZZ34567890123456789012345678901234567890", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsValidAddress(tt.addr); got != tt.valid {
			t.Errorf("IsValidAddress(%q) = %v, want %v", tt.addr, got, tt.valid)
		}
	}
}

func TestIsValidTxHash(t *testing.T) {
	valid := "0x" + "ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12"
	if !IsValidTxHash(valid) {
		t.Errorf("expected %q to be valid", valid)
	}
	for _, h := range []string{
		"0x1234",
		"ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12", // no prefix
		"",
	} {
		if IsValidTxHash(h) {
			t.Errorf("expected %q to be invalid", h)
		}
	}
}

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		in, out string
	}{
		{"0xABCDEF1234567890abcdef1234567890ABCDEF12", "0xabcdef1234567890abcdef1234567890abcdef12"},
		{"  0xABC  ", "0xabc"},
		{"abcdef1234567890abcdef1234567890abcdef12", "0xabcdef1234567890abcdef1234567890abcdef12"},
	}
	for _, tt := range tests {
		if got := NormalizeAddress(tt.in); got != tt.out {
			t.Errorf("NormalizeAddress(%q) = %q, want %q", tt.in, got, tt.out)
		}
	}
}
