package auth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var hashPrefixes = []string{"$2a$", "$2b$", "$2y$"}

// maxPasswordBytes is the bcrypt input limit.
const maxPasswordBytes = 72

// HashPassword hashes plaintext using bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", fmt.Errorf("%w: empty", ErrInvalidPassword)
	}
	if len(password) > maxPasswordBytes {
		return "", fmt.Errorf("%w: longer than %d bytes", ErrInvalidPassword, maxPasswordBytes)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares plaintext with a stored hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// IsHashed reports whether value already carries a bcrypt hash prefix.
func IsHashed(value string) bool {
	for _, p := range hashPrefixes {
		if strings.HasPrefix(value, p) {
			return true
		}
	}
	return false
}

// HashIfNeeded hashes non-empty values that are not hashed yet; anything else is returned as is.
// Applying it twice yields the same value as applying it once.
func HashIfNeeded(value string) (string, error) {
	if value == "" || IsHashed(value) {
		return value, nil
	}
	return HashPassword(value)
}

// EncryptFields hashes, in place, the string entries of values whose key matches one of
// fields (case-insensitive, a leading "@" on either side is ignored).
func EncryptFields(values map[string]any, fields []string) error {
	if len(fields) == 0 || len(values) == 0 {
		return nil
	}
	wanted := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		f = normalizeField(f)
		if f != "" {
			wanted[f] = struct{}{}
		}
	}
	for key, raw := range values {
		if _, ok := wanted[normalizeField(key)]; !ok {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			continue
		}
		hashed, err := HashIfNeeded(s)
		if err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
		values[key] = hashed
	}
	return nil
}

// ParseFieldList splits a csv encrypt marker into trimmed, non-empty names.
func ParseFieldList(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func normalizeField(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "@"))
}
