package validation

import (
	"strings"
	"testing"
)

func TestValidateSerial(t *testing.T) {
	valid := []string{"C353", "0000", "ABCD", "9Z9Z"}
	for _, s := range valid {
		if err := ValidateSerial(s); err != nil {
			t.Errorf("ValidateSerial(%q) = %v, want nil", s, err)
		}
	}

	invalid := []string{"", "C35", "C3533", "c353", "C35!", "GoPro C353"}
	for _, s := range invalid {
		if err := ValidateSerial(s); err == nil {
			t.Errorf("ValidateSerial(%q) = nil, want error", s)
		}
	}
}

func TestNormalizeSerial(t *testing.T) {
	if got := NormalizeSerial("  c353 "); got != "C353" {
		t.Errorf("NormalizeSerial = %q, want C353", got)
	}
}

func TestValidateName(t *testing.T) {
	if err := ValidateName("Rig A"); err != nil {
		t.Errorf("ValidateName valid name: %v", err)
	}
	if err := ValidateName("   "); err == nil {
		t.Error("ValidateName blank name: want error")
	}
	if err := ValidateName(strings.Repeat("x", 65)); err == nil {
		t.Error("ValidateName oversized name: want error")
	}
}

func TestValidateSSID(t *testing.T) {
	if err := ValidateSSID("studio-5g"); err != nil {
		t.Errorf("ValidateSSID valid: %v", err)
	}
	if err := ValidateSSID(""); err == nil {
		t.Error("ValidateSSID empty: want error")
	}
	if err := ValidateSSID(strings.Repeat("a", 33)); err == nil {
		t.Error("ValidateSSID oversized: want error")
	}
}
