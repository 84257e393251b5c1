package progress

import (
	"encoding/base64"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const (
	// Kubernetes limits for annotation keys: the name segment after the
	// optional "prefix/" and the whole key.
	maxNameLength = 63
	maxKeyLength  = 253

	hashLength = 4
)

// NormalizeKey builds an annotation key "{prefix}/{name}" from a handler id,
// fitting the Kubernetes length limits and the annotation name charset.
// Whenever the name had to be truncated or any character replaced, a short
// deterministic hash suffix of the full id is appended, so distinct ids stay
// distinct and the key stays a pure function of (prefix, id), stable across
// restarts.
func NormalizeKey(prefix, id string) string {
	name := strings.ReplaceAll(id, "/", ".")
	clean := sanitizeName(name)

	limit := maxNameLength
	if prefix != "" {
		if withPrefix := maxKeyLength - len(prefix) - 1; withPrefix < limit {
			limit = withPrefix
		}
	}

	if clean != name || len(clean) > limit {
		suffix := "-" + shortHash(id)
		if cut := limit - len(suffix); len(clean) > cut {
			clean = clean[:cut]
		}
		clean += suffix
	}

	if prefix != "" {
		return prefix + "/" + clean
	}
	return clean
}

// sanitizeName replaces every character not allowed in an annotation name
// segment with a dot. Callers append a digest of the original id whenever
// anything was replaced.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('.')
		}
	}
	return b.String()
}

// shortHash returns a compact digest of an id: a 4-byte BLAKE2b digest in a
// URL-safe base64 alphabet, trimmed of trailing padding.
func shortHash(id string) string {
	digest, err := blake2b.New(hashLength, nil)
	if err != nil {
		// The digest size is a compile-time constant within the valid
		// range; New cannot fail for it.
		panic(err)
	}
	digest.Write([]byte(id))
	encoded := base64.URLEncoding.EncodeToString(digest.Sum(nil))
	return strings.TrimRight(encoded, "=")
}
