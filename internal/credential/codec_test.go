package credential

import (
	"strings"
	"testing"
)

func TestGenerateSecret(t *testing.T) {
	secret, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	// 32 bytes of entropy → 43 chars of unpadded base64
	if len(secret) != 43 {
		t.Errorf("expected 43 chars, got %d", len(secret))
	}
	if strings.ContainsAny(secret, "+/=") {
		t.Errorf("secret contains non-URL-safe characters: %q", secret)
	}
	// Secrets should be random
	secret2, _ := GenerateSecret()
	if secret == secret2 {
		t.Error("two secrets should not be equal")
	}
}

func TestPrefix(t *testing.T) {
	secret, _ := GenerateSecret()
	p := Prefix(secret)
	if len(p) != PrefixLength {
		t.Errorf("expected prefix length %d, got %d", PrefixLength, len(p))
	}
	if !strings.HasPrefix(secret, p) {
		t.Error("prefix should be the leading characters of the secret")
	}
	// Short input is passed through rather than panicking
	if Prefix("abc") != "abc" {
		t.Error("short input should be returned unchanged")
	}
}

func TestHashTaggedAndDeterministic(t *testing.T) {
	h, err := Hash("some-secret", "")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if !strings.HasPrefix(h, "sha256:") {
		t.Errorf("default hash should carry sha256 tag, got %q", h)
	}
	h2, _ := Hash("some-secret", AlgSHA256)
	if h != h2 {
		t.Error("hashing should be deterministic")
	}
	h3, _ := Hash("other-secret", AlgSHA256)
	if h == h3 {
		t.Error("different secrets should hash differently")
	}
}

func TestHashBlake2b(t *testing.T) {
	h, err := Hash("some-secret", AlgBlake2b)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if !strings.HasPrefix(h, "blake2b:") {
		t.Errorf("expected blake2b tag, got %q", h)
	}
	if !Verify("some-secret", h) {
		t.Error("Verify should accept a blake2b hash by its tag")
	}
}

func TestHashUnknownAlgorithm(t *testing.T) {
	if _, err := Hash("x", "md5"); err == nil {
		t.Error("expected error for unsupported algorithm")
	}
}

func TestVerify(t *testing.T) {
	secret, _ := GenerateSecret()
	h, _ := Hash(secret, AlgSHA256)

	if !Verify(secret, h) {
		t.Error("correct secret should verify")
	}
	if Verify(secret+"x", h) {
		t.Error("tampered secret should not verify")
	}
	if Verify(secret, "untagged-hash") {
		t.Error("hash without algorithm tag should not verify")
	}
	if Verify(secret, "md5:abcdef") {
		t.Error("unknown algorithm tag should not verify")
	}
}
