package sshterminal

import (
	"strings"
	"testing"
)

func TestClampSize(t *testing.T) {
	tests := []struct {
		rows, cols         uint16
		wantRows, wantCols uint16
	}{
		{24, 80, 24, 80},
		{500, 500, 500, 500},
		{501, 80, 500, 80},
		{24, 65535, 24, 500},
		{0, 0, 0, 0},
	}
	for _, tt := range tests {
		r, c := ClampSize(tt.rows, tt.cols)
		if r != tt.wantRows || c != tt.wantCols {
			t.Errorf("ClampSize(%d, %d) = (%d, %d), want (%d, %d)", tt.rows, tt.cols, r, c, tt.wantRows, tt.wantCols)
		}
	}
}

func TestValidateUsername(t *testing.T) {
	valid := []string{"alice", "bob.smith", "user_01", "ünïcode", strings.Repeat("a", MaxUsernameLength)}
	for _, u := range valid {
		if err := ValidateUsername(u); err != nil {
			t.Errorf("ValidateUsername(%q) = %v, want nil", u, err)
		}
	}

	invalid := []string{"", "ali#ce", "alice\n", "bob\x00", "x\x7f", strings.Repeat("a", MaxUsernameLength+1)}
	for _, u := range invalid {
		if err := ValidateUsername(u); err == nil {
			t.Errorf("ValidateUsername(%q) = nil, want error", u)
		}
	}
}
