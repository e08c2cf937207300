package formula

import (
	"fmt"
	"strings"
)

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch)
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isQuote(ch byte) bool {
	return ch == '"' || ch == '\''
}

// scanStringLiteral returns the index of the quote closing the literal that
// starts at start.
func scanStringLiteral(input string, start int) (int, error) {
	quote := input[start]
	escaped := false
	for idx := start + 1; idx < len(input); idx++ {
		ch := input[idx]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' {
			escaped = true
			continue
		}
		if ch == quote {
			return idx, nil
		}
	}
	return 0, fmt.Errorf("unterminated string literal")
}

func scanIdentifier(input string, start int) int {
	idx := start
	for idx < len(input) && isIdentPart(input[idx]) {
		idx++
	}
	return idx
}

// scanNumber consumes a numeric literal including fraction, exponent and
// digit separators.
func scanNumber(input string, start int) int {
	idx := start
	for idx < len(input) && (isDigit(input[idx]) || input[idx] == '_') {
		idx++
	}
	if idx+1 < len(input) && input[idx] == '.' && isDigit(input[idx+1]) {
		idx++
		for idx < len(input) && (isDigit(input[idx]) || input[idx] == '_') {
			idx++
		}
	}
	if idx < len(input) && (input[idx] == 'e' || input[idx] == 'E') {
		next := idx + 1
		if next < len(input) && (input[next] == '+' || input[next] == '-') {
			next++
		}
		if next < len(input) && isDigit(input[next]) {
			idx = next
			for idx < len(input) && isDigit(input[idx]) {
				idx++
			}
		}
	}
	return idx
}

// splitStatements splits text on top-level semicolons. Delimiters inside
// quoted literals are ignored.
func splitStatements(text string) ([]string, error) {
	var statements []string
	start := 0
	for idx := 0; idx < len(text); idx++ {
		ch := text[idx]
		if isQuote(ch) {
			end, err := scanStringLiteral(text, idx)
			if err != nil {
				return nil, &ParseError{Text: text, Pos: idx, Msg: err.Error()}
			}
			idx = end
			continue
		}
		if ch == ';' {
			statements = append(statements, text[start:idx])
			start = idx + 1
		}
	}
	statements = append(statements, text[start:])
	out := statements[:0]
	for _, stmt := range statements {
		if strings.TrimSpace(stmt) != "" {
			out = append(out, stmt)
		}
	}
	return out, nil
}

// findAssignment returns the index of a top-level assignment operator or -1.
// Comparison operators are not assignments.
func findAssignment(stmt string) int {
	depth := 0
	for idx := 0; idx < len(stmt); idx++ {
		ch := stmt[idx]
		switch {
		case isQuote(ch):
			end, err := scanStringLiteral(stmt, idx)
			if err != nil {
				return -1
			}
			idx = end
		case ch == '(' || ch == '[' || ch == '{':
			depth++
		case ch == ')' || ch == ']' || ch == '}':
			depth--
		case ch == '=' && depth == 0:
			if idx+1 < len(stmt) && (stmt[idx+1] == '=' || stmt[idx+1] == '>') {
				idx++
				continue
			}
			if idx > 0 && strings.IndexByte("=!<>", stmt[idx-1]) >= 0 {
				continue
			}
			return idx
		}
	}
	return -1
}

// matchClose returns the index of the bracket closing the one at start.
func matchClose(input string, start int) (int, error) {
	open := input[start]
	var closing byte
	switch open {
	case '(':
		closing = ')'
	case '[':
		closing = ']'
	default:
		return 0, fmt.Errorf("unexpected %q", open)
	}
	depth := 0
	for idx := start; idx < len(input); idx++ {
		ch := input[idx]
		switch {
		case isQuote(ch):
			end, err := scanStringLiteral(input, idx)
			if err != nil {
				return 0, err
			}
			idx = end
		case ch == '(' || ch == '[':
			depth++
		case ch == ')' || ch == ']':
			depth--
			if depth == 0 {
				if ch != closing {
					return 0, fmt.Errorf("mismatched %q", ch)
				}
				return idx, nil
			}
		}
	}
	return 0, fmt.Errorf("unbalanced %q", open)
}

// splitArguments splits a bracket body on top-level commas.
func splitArguments(body string) ([]string, error) {
	if strings.TrimSpace(body) == "" {
		return nil, nil
	}
	var args []string
	depth := 0
	start := 0
	for idx := 0; idx < len(body); idx++ {
		ch := body[idx]
		switch {
		case isQuote(ch):
			end, err := scanStringLiteral(body, idx)
			if err != nil {
				return nil, err
			}
			idx = end
		case ch == '(' || ch == '[' || ch == '{':
			depth++
		case ch == ')' || ch == ']' || ch == '}':
			depth--
		case ch == ',' && depth == 0:
			args = append(args, body[start:idx])
			start = idx + 1
		}
	}
	args = append(args, body[start:])
	for i, arg := range args {
		if strings.TrimSpace(arg) == "" {
			return nil, fmt.Errorf("empty argument %d", i)
		}
	}
	return args, nil
}

// scanTypeArguments matches <Name, Name> immediately followed by '('. It
// returns the names and the index of the parenthesis, or ok=false.
func scanTypeArguments(input string, start int) (names []string, next int, ok bool) {
	if start >= len(input) || input[start] != '<' {
		return nil, start, false
	}
	end := strings.IndexByte(input[start:], '>')
	if end < 0 {
		return nil, start, false
	}
	end += start
	if end+1 >= len(input) || input[end+1] != '(' {
		return nil, start, false
	}
	for _, part := range strings.Split(input[start+1:end], ",") {
		name := strings.TrimSpace(part)
		if name == "" || !isIdentStart(name[0]) || scanIdentifier(name, 0) != len(name) {
			return nil, start, false
		}
		names = append(names, name)
	}
	return names, end + 1, true
}
