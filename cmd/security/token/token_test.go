package token

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewSecret(t *testing.T) {
	t.Parallel()

	a, err := NewSecret(0)
	if err != nil {
		t.Fatalf("NewSecret: %v", err)
	}
	b, err := NewSecret(0)
	if err != nil {
		t.Fatalf("NewSecret: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct secrets")
	}
	raw, err := base64.RawURLEncoding.DecodeString(a)
	if err != nil {
		t.Fatalf("secret is not URL-safe base64: %v", err)
	}
	if len(raw) != DefaultSecretBytes {
		t.Fatalf("decoded length = %d, want %d", len(raw), DefaultSecretBytes)
	}
	if err := CheckSecret(a, MinSecretBytes); err != nil {
		t.Fatalf("generated secret must pass CheckSecret: %v", err)
	}
}

func TestCheckSecret(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want error
	}{
		{name: "missing", in: "  ", want: ErrSecretMissing},
		{name: "placeholder", in: "super-secret-" + Placeholder + "-please", want: ErrSecretPlaceholder},
		{name: "short", in: "abc", want: ErrSecretTooShort},
		{name: "ok", in: strings.Repeat("z", MinSecretBytes), want: nil},
	}
	for _, tc := range cases {
		if got := CheckSecret(tc.in, MinSecretBytes); !errors.Is(got, tc.want) {
			t.Fatalf("%s: CheckSecret=%v want=%v", tc.name, got, tc.want)
		}
	}
}

func TestCheckEnvFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	r, err := CheckEnvFile(filepath.Join(dir, "missing.env"))
	if err != nil || r.Exists {
		t.Fatalf("missing file: report=%+v err=%v", r, err)
	}

	path := filepath.Join(dir, ".env")
	content := "RELAY_JWT_SECRET=" + Placeholder + "\nRELAY_WS_ALLOWED_ORIGINS=https://a.example.com, *\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}

	r, err = CheckEnvFile(path)
	if err != nil {
		t.Fatalf("CheckEnvFile: %v", err)
	}
	if !r.Exists || !errors.Is(r.SecretErr, ErrSecretPlaceholder) || !r.OpenOrigins {
		t.Fatalf("unexpected report: %+v", r)
	}
	if os.Getenv(SecretEnvKey) == Placeholder {
		t.Fatalf("CheckEnvFile must not modify the process environment")
	}
}
