package formula

import "strings"

// ValidIdentifier reports whether name may be used as a field name: non-empty
// and made of letters and underscores only.
func ValidIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		if !isIdentStart(name[i]) {
			return false
		}
	}
	return true
}

// RenameIdentifier rewrites whole-token occurrences of oldName in text to
// newName. Quoted literals are copied verbatim; member names after a dot and
// identifiers that merely contain oldName are left alone.
func RenameIdentifier(text, oldName, newName string) (string, error) {
	if !ValidIdentifier(newName) {
		return text, &InvalidIdentifierError{Name: newName}
	}
	if oldName == newName || !strings.Contains(text, oldName) {
		return text, nil
	}
	var builder strings.Builder
	builder.Grow(len(text))
	member := false
	for idx := 0; idx < len(text); {
		ch := text[idx]
		switch {
		case isQuote(ch):
			end, err := scanStringLiteral(text, idx)
			if err != nil {
				builder.WriteString(text[idx:])
				return builder.String(), nil
			}
			builder.WriteString(text[idx : end+1])
			idx = end + 1
			member = false
		case isIdentStart(ch):
			end := scanIdentifier(text, idx)
			token := text[idx:end]
			if token == oldName && !member {
				builder.WriteString(newName)
			} else {
				builder.WriteString(token)
			}
			idx = end
			member = false
		case isDigit(ch):
			end := idx
			for end < len(text) && (isIdentPart(text[end]) || text[end] == '.') {
				end++
			}
			builder.WriteString(text[idx:end])
			idx = end
			member = false
		default:
			member = ch == '.'
			builder.WriteByte(ch)
			idx++
		}
	}
	return builder.String(), nil
}
