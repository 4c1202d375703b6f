package util_test

import (
	"strings"
	"testing"

	"github.com/dropDatabas3/pulsebroker/internal/util"
)

func TestMaskToken(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"short", "****"},
		{"12345678", "****"},
		{"ya29.a0AfB_secret-token", "ya29…(23)"},
	}
	for _, c := range cases {
		if got := util.MaskToken(c.in); got != c.want {
			t.Errorf("MaskToken(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestMaskToken_NeverLeaksTail(t *testing.T) {
	secret := "prefix-very-secret-suffix"
	masked := util.MaskToken(secret)
	if strings.Contains(masked, "suffix") {
		t.Fatalf("mask leaked the tail: %q", masked)
	}
	if len(masked) >= len(secret) {
		t.Fatalf("mask as long as the secret: %q", masked)
	}
}
