package keyspace

import (
	"errors"
	"strings"
	"testing"
)

func TestForLayout(t *testing.T) {
	keys, err := For("", "password_reset", "203.0.113.7")
	if err != nil {
		t.Fatalf("For failed: %v", err)
	}

	if keys.Ledger != "limiter:attempts:{password_reset:203.0.113.7}" {
		t.Fatalf("unexpected ledger key %q", keys.Ledger)
	}
	if keys.Block != "limiter:block:{password_reset:203.0.113.7}" {
		t.Fatalf("unexpected block key %q", keys.Block)
	}
	if keys.Sequence != "limiter:seq:{password_reset:203.0.113.7}" {
		t.Fatalf("unexpected sequence key %q", keys.Sequence)
	}

	got := keys.Slice()
	if len(got) != 3 || got[0] != keys.Ledger || got[1] != keys.Block || got[2] != keys.Sequence {
		t.Fatalf("unexpected slice order %v", got)
	}
}

func TestForCustomPrefix(t *testing.T) {
	keys, err := For("abuse", "newsletter", "x")
	if err != nil {
		t.Fatalf("For failed: %v", err)
	}
	if keys.Block != "abuse:block:{newsletter:x}" {
		t.Fatalf("unexpected block key %q", keys.Block)
	}
}

func TestForSharesHashTag(t *testing.T) {
	keys, err := For("limiter", "email_verification", "user-42")
	if err != nil {
		t.Fatalf("For failed: %v", err)
	}
	for _, k := range keys.Slice() {
		start := strings.IndexByte(k, '{')
		end := strings.IndexByte(k, '}')
		if start < 0 || end < start {
			t.Fatalf("key %q has no hash tag", k)
		}
		if tag := k[start+1 : end]; tag != "email_verification:user-42" {
			t.Fatalf("key %q has tag %q", k, tag)
		}
	}
}

func TestForIsInjective(t *testing.T) {
	a, err := For("", "ns", "a:b")
	if err != nil {
		t.Fatalf("For failed: %v", err)
	}
	b, err := For("", "ns_a", "b")
	if err != nil {
		t.Fatalf("For failed: %v", err)
	}
	if a.Ledger == b.Ledger {
		t.Fatalf("distinct scopes collided on %q", a.Ledger)
	}
}

func TestForRejectsInvalidInput(t *testing.T) {
	cases := []struct {
		name      string
		prefix    string
		namespace string
		subject   string
		want      error
	}{
		{name: "uppercase namespace", namespace: "Login", subject: "x", want: ErrInvalidNamespace},
		{name: "namespace with colon", namespace: "a:b", subject: "x", want: ErrInvalidNamespace},
		{name: "empty namespace", namespace: "", subject: "x", want: ErrInvalidNamespace},
		{name: "empty subject", namespace: "login", subject: "", want: ErrInvalidSubject},
		{name: "subject with brace", namespace: "login", subject: "a}b", want: ErrInvalidSubject},
		{name: "subject with space", namespace: "login", subject: "a b", want: ErrInvalidSubject},
		{name: "subject with newline", namespace: "login", subject: "a\nb", want: ErrInvalidSubject},
		{name: "non ascii subject", namespace: "login", subject: "héllo", want: ErrInvalidSubject},
		{name: "long subject", namespace: "login", subject: strings.Repeat("a", MaxSubjectLen+1), want: ErrInvalidSubject},
		{name: "bad prefix", prefix: "Bad-Prefix", namespace: "login", subject: "x", want: ErrInvalidPrefix},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := For(tc.prefix, tc.namespace, tc.subject)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestHashSubjectNormalizes(t *testing.T) {
	a := HashSubject("  Alice@Example.COM ")
	b := HashSubject("alice@example.com")
	if a != b {
		t.Fatalf("expected normalized hashes to match: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
	if err := ValidateSubject(a); err != nil {
		t.Fatalf("hashed subject must be valid: %v", err)
	}
	if HashSubject("bob@example.com") == a {
		t.Fatal("distinct identifiers must not hash equal")
	}
}
