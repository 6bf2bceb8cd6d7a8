package kb

import "strings"

// Prefix is the canonical account identifier prefix.
const Prefix = "m_"

// Normalize trims and lower-cases an account identifier.
func Normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Resolve maps an identifier onto one of keys. Rules, first hit wins:
//
//  1. exact match
//  2. match after adding Prefix when it is missing
//  3. any key ending with the identifier's content after Prefix
//  4. any key containing the identifier, or contained in it
//
// Rules 3 and 4 walk keys in order, so the result for an ambiguous short
// identifier depends on key order. Rule 4 is known to be loose for short
// identifiers ("1" matches the first key containing a 1).
func Resolve(keys []string, id string) (string, bool) {
	id = Normalize(id)
	if id == "" {
		return "", false
	}

	for _, k := range keys {
		if k == id {
			return k, true
		}
	}

	if !strings.HasPrefix(id, Prefix) {
		prefixed := Prefix + id
		for _, k := range keys {
			if k == prefixed {
				return k, true
			}
		}
	} else if rest := strings.TrimPrefix(id, Prefix); rest != "" {
		for _, k := range keys {
			if strings.HasSuffix(k, rest) {
				return k, true
			}
		}
	}

	for _, k := range keys {
		if strings.Contains(k, id) || strings.Contains(id, k) {
			return k, true
		}
	}

	return "", false
}
