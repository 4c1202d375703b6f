package secretbox_test

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/dropDatabas3/pulsebroker/internal/security/secretbox"
)

func testKey() []byte {
	k := make([]byte, 32)
	for i := range k {
		k[i] = byte(i + 1)
	}
	return k
}

func TestSealOpen_RoundTrip(t *testing.T) {
	box, err := secretbox.New(testKey())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	msg := "ya29.a0AfH6SMBx-access-token"
	ct, err := box.Seal(msg)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if ct == msg {
		t.Fatal("ciphertext equals plaintext")
	}
	if !strings.Contains(ct, "|") {
		t.Fatalf("ciphertext missing nonce separator: %q", ct)
	}

	pt, err := box.Open(ct)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if pt != msg {
		t.Fatalf("got %q want %q", pt, msg)
	}
}

func TestOpen_DetectsTamper(t *testing.T) {
	box, _ := secretbox.New(testKey())

	ct, err := box.Seal("secret")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	i := strings.Index(ct, "|")
	raw, _ := base64.StdEncoding.DecodeString(ct[i+1:])
	raw[0] ^= 0xff
	tampered := ct[:i+1] + base64.StdEncoding.EncodeToString(raw)

	if _, err := box.Open(tampered); err == nil {
		t.Fatal("tampered ciphertext opened without error")
	}
}

func TestOpen_PlaintextPassthrough(t *testing.T) {
	box, _ := secretbox.New(testKey())

	// Pre-encryption rows have no separator and must survive unchanged.
	got, err := box.Open("legacy-plaintext-token")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got != "legacy-plaintext-token" {
		t.Fatalf("got %q", got)
	}
}

func TestNilBox_Passthrough(t *testing.T) {
	var box *secretbox.Box

	ct, err := box.Seal("value")
	if err != nil || ct != "value" {
		t.Fatalf("Seal on nil box: %q, %v", ct, err)
	}
	pt, err := box.Open("value")
	if err != nil || pt != "value" {
		t.Fatalf("Open on nil box: %q, %v", pt, err)
	}
}

func TestNew_RejectsBadKeySize(t *testing.T) {
	if _, err := secretbox.New([]byte("short")); err == nil {
		t.Fatal("want error for short key")
	}
}

func TestFromEnv_Unset(t *testing.T) {
	t.Setenv(secretbox.EnvMasterKey, "")
	box, err := secretbox.FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if box != nil {
		t.Fatal("want nil box when env unset")
	}
}

func TestFromEnv_Valid(t *testing.T) {
	t.Setenv(secretbox.EnvMasterKey, base64.StdEncoding.EncodeToString(testKey()))
	box, err := secretbox.FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if box == nil {
		t.Fatal("want box")
	}
}
