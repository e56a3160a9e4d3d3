package httpapi

import "testing"

func TestSetMaxBodyBytes_DefaultWhenNonPositive(t *testing.T) {
	SetMaxBodyBytes(-1)
	if maxBodyBytes != 1<<20 {
		t.Fatalf("expected default 1MiB, got %d", maxBodyBytes)
	}
	SetMaxBodyBytes(0)
	if maxBodyBytes != 1<<20 {
		t.Fatalf("expected default 1MiB on zero, got %d", maxBodyBytes)
	}
}

func TestSetMaxBodyBytes_PositiveSetsValue(t *testing.T) {
	defer SetMaxBodyBytes(0)
	SetMaxBodyBytes(1234)
	if maxBodyBytes != 1234 {
		t.Fatalf("expected 1234, got %d", maxBodyBytes)
	}
}

func TestWSOriginPolicy(t *testing.T) {
	defer SetCORSOptions(false, nil, nil, nil)

	SetCORSOptions(false, []string{"*"}, nil, nil)
	if p, anyOrigin := wsOriginPolicy(); p != nil || anyOrigin {
		t.Fatalf("disabled: patterns=%v any=%v", p, anyOrigin)
	}
	SetCORSOptions(true, []string{"http://a.test", "*"}, nil, nil)
	if _, anyOrigin := wsOriginPolicy(); !anyOrigin {
		t.Fatalf("wildcard should allow any origin")
	}
	SetCORSOptions(true, []string{"a.test", "b.test"}, nil, nil)
	if p, anyOrigin := wsOriginPolicy(); anyOrigin || len(p) != 2 {
		t.Fatalf("explicit: patterns=%v any=%v", p, anyOrigin)
	}
}

func TestSetCORSOptionsCopies(t *testing.T) {
	defer SetCORSOptions(false, nil, nil, nil)
	origins := []string{"a.test"}
	SetCORSOptions(true, origins, nil, nil)
	origins[0] = "changed"
	if corsAllowedOrigins[0] != "a.test" {
		t.Fatalf("options alias caller slice: %v", corsAllowedOrigins)
	}
}
