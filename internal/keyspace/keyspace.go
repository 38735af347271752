package keyspace

import (
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "limiter"

// MaxSubjectLen bounds the subject part of a scope.
const MaxSubjectLen = 128

var (
	ErrInvalidPrefix    = errors.New("invalid key prefix")
	ErrInvalidNamespace = errors.New("invalid scope namespace")
	ErrInvalidSubject   = errors.New("invalid scope subject")
)

var (
	namespacePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,47}$`)
	prefixPattern    = regexp.MustCompile(`^[a-z][a-z0-9_]{0,31}$`)
)

// Keys names the three records owned by one scope. All three share the
// same hash tag so a cluster routes them to one slot.
type Keys struct {
	Ledger   string
	Block    string
	Sequence string
}

// Slice returns the keys in the order the decision script expects.
func (k Keys) Slice() []string {
	return []string{k.Ledger, k.Block, k.Sequence}
}

// For maps a scope to its store keys. It is pure and deterministic; two
// distinct (namespace, subject) pairs never map to the same keys.
func For(prefix, namespace, subject string) (Keys, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !prefixPattern.MatchString(prefix) {
		return Keys{}, fmt.Errorf("%w: %q", ErrInvalidPrefix, prefix)
	}
	if err := ValidateNamespace(namespace); err != nil {
		return Keys{}, err
	}
	if err := ValidateSubject(subject); err != nil {
		return Keys{}, err
	}

	tag := "{" + namespace + ":" + subject + "}"
	return Keys{
		Ledger:   prefix + ":attempts:" + tag,
		Block:    prefix + ":block:" + tag,
		Sequence: prefix + ":seq:" + tag,
	}, nil
}

// ValidateNamespace reports whether ns is a usable namespace. Namespaces
// never contain ':' which keeps the namespace/subject split unambiguous.
func ValidateNamespace(ns string) error {
	if !namespacePattern.MatchString(ns) {
		return fmt.Errorf("%w: %q", ErrInvalidNamespace, ns)
	}
	return nil
}

// ValidateSubject reports whether subject can be embedded in a key.
func ValidateSubject(subject string) error {
	if subject == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSubject)
	}
	if len(subject) > MaxSubjectLen {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidSubject, MaxSubjectLen)
	}
	for i := 0; i < len(subject); i++ {
		c := subject[i]
		if c <= ' ' || c > '~' || c == '{' || c == '}' {
			return fmt.Errorf("%w: byte 0x%02x at offset %d", ErrInvalidSubject, c, i)
		}
	}
	return nil
}

// HashSubject normalizes a free-form identifier (e-mail address, user
// agent, form input) and returns a fixed-length hex digest that is always
// a valid subject.
func HashSubject(raw string) string {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	sum := blake2b.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
