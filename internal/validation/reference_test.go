package validation

import "testing"

func TestIsValidReference(t *testing.T) {
	tests := []struct {
		name string
		ref  string
		want bool
	}{
		{"valid digits", "12345", true},
		{"zeros", "00000", true},
		{"too short", "1234", false},
		{"too long", "123456", false},
		{"empty", "", false},
		{"letters", "12a45", false},
		{"spaces", "12 45", false},
		{"unicode digits rejected", "１２３４５", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidReference(tt.ref); got != tt.want {
				t.Errorf("IsValidReference(%q) = %v, want %v", tt.ref, got, tt.want)
			}
		})
	}
}
