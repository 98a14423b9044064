package query

import (
	"strings"
	"unicode"

	"github.com/datapulse/datapulse/internal/domain"
)

// Keywords that mutate state. Statements containing any of these (outside
// string literals and comments) are rejected before ever reaching the store.
// This is a syntactic safety gate, not a SQL parser.
var mutatingKeywords = map[string]struct{}{
	"DROP":     {},
	"DELETE":   {},
	"INSERT":   {},
	"UPDATE":   {},
	"ALTER":    {},
	"CREATE":   {},
	"TRUNCATE": {},
	"ATTACH":   {},
	"DETACH":   {},
	"PRAGMA":   {},
	"VACUUM":   {},
	"REINDEX":  {},
}

// CheckStatement applies the read-only gate: no mutating keywords and
// balanced parentheses. Violations return RejectedStatement.
func CheckStatement(stmt string) error {
	if strings.TrimSpace(stmt) == "" {
		return domain.ErrRejectedStatement("empty statement")
	}

	depth := 0
	var word strings.Builder

	checkWord := func() error {
		if word.Len() == 0 {
			return nil
		}
		token := strings.ToUpper(word.String())
		word.Reset()
		if _, bad := mutatingKeywords[token]; bad {
			return domain.ErrRejectedStatement("statement contains mutating keyword " + token)
		}
		return nil
	}

	runes := []rune(stmt)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		switch r {
		case '\'', '"':
			// Skip the quoted literal; doubled quotes escape inside it.
			if err := checkWord(); err != nil {
				return err
			}
			quote := r
			i++
			for i < len(runes) {
				if runes[i] == quote {
					if i+1 < len(runes) && runes[i+1] == quote {
						i += 2
						continue
					}
					break
				}
				i++
			}
			if i >= len(runes) {
				return domain.ErrRejectedStatement("unterminated string literal")
			}
			continue
		case '-':
			if i+1 < len(runes) && runes[i+1] == '-' {
				if err := checkWord(); err != nil {
					return err
				}
				for i < len(runes) && runes[i] != '\n' {
					i++
				}
				continue
			}
		case '/':
			if i+1 < len(runes) && runes[i+1] == '*' {
				if err := checkWord(); err != nil {
					return err
				}
				i += 2
				for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
					i++
				}
				i++
				continue
			}
		case '(':
			if err := checkWord(); err != nil {
				return err
			}
			depth++
			continue
		case ')':
			if err := checkWord(); err != nil {
				return err
			}
			depth--
			if depth < 0 {
				return domain.ErrRejectedStatement("unbalanced parentheses")
			}
			continue
		}

		if unicode.IsLetter(r) || r == '_' || (word.Len() > 0 && unicode.IsDigit(r)) {
			word.WriteRune(r)
			continue
		}
		if err := checkWord(); err != nil {
			return err
		}
	}

	if err := checkWord(); err != nil {
		return err
	}
	if depth != 0 {
		return domain.ErrRejectedStatement("unbalanced parentheses")
	}
	return nil
}

// normalizeStatement collapses whitespace and strips a trailing semicolon so
// textually equivalent statements share a cache key.
func normalizeStatement(stmt string) string {
	stmt = strings.TrimSuffix(strings.TrimSpace(stmt), ";")
	return strings.Join(strings.Fields(stmt), " ")
}
