package placeholder

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/zalando/go-keyring"
)

// Matches {{type:value}} with optional surrounding whitespace.
var placeholderRegex = regexp.MustCompile(`{{\s*(env|keyring|file)\s*:\s*([^}]+?)\s*}}`)

// Resolve expands every placeholder in value:
//
//	{{env:VAR}}                 environment variable
//	{{keyring:service:account}} system keyring secret
//	{{file:path}}               trimmed file contents
//
// Values without placeholders are returned unchanged.
func Resolve(value string) (string, error) {
	var firstErr error
	resolved := placeholderRegex.ReplaceAllStringFunc(value, func(match string) string {
		if firstErr != nil {
			return match
		}
		parts := placeholderRegex.FindStringSubmatch(match)
		out, err := lookup(parts[1], parts[2])
		if err != nil {
			firstErr = err
			return match
		}
		return out
	})
	return resolved, firstErr
}

// ResolveFields resolves each named field in place and reports the first failure
// with the field name attached.
func ResolveFields(fields map[string]*string) error {
	for name, ptr := range fields {
		if ptr == nil || !strings.Contains(*ptr, "{{") {
			continue
		}
		v, err := Resolve(*ptr)
		if err != nil {
			return fmt.Errorf("failed to resolve placeholder for %s: %w", name, err)
		}
		*ptr = v
	}
	return nil
}

func lookup(kind, ref string) (string, error) {
	switch kind {
	case "env":
		v, ok := os.LookupEnv(ref)
		if !ok {
			return "", fmt.Errorf("environment variable '%s' not found", ref)
		}
		return v, nil
	case "keyring":
		service, account, ok := strings.Cut(ref, ":")
		if !ok {
			return "", fmt.Errorf("invalid keyring reference '%s', expected 'service:account'", ref)
		}
		secret, err := keyring.Get(service, account)
		if err != nil {
			return "", fmt.Errorf("keyring error for '%s:%s': %w", service, account, err)
		}
		return secret, nil
	case "file":
		data, err := os.ReadFile(ref)
		if err != nil {
			return "", fmt.Errorf("failed to read file '%s': %w", ref, err)
		}
		return strings.TrimSpace(string(data)), nil
	default:
		return "", fmt.Errorf("unknown placeholder type '%s'", kind)
	}
}
