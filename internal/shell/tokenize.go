package shell

import (
	"fmt"
	"strings"
	"unicode"
)

// Tokenize splits a command line into arguments. Whitespace separates
// arguments unless inside single or double quotes. A backslash escapes the
// next character outside of single quotes.
func Tokenize(line string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		quote   rune
		escaped bool
		inArg   bool
	)

	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false

		case r == '\\' && quote != '\'':
			escaped = true
			inArg = true

		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}

		case r == '"' || r == '\'':
			quote = r
			inArg = true

		case unicode.IsSpace(r):
			if inArg {
				args = append(args, cur.String())
				cur.Reset()
				inArg = false
			}

		default:
			cur.WriteRune(r)
			inArg = true
		}
	}

	if quote != 0 {
		return nil, fmt.Errorf("(shell-tokenize) %w: %c", ErrUnterminatedQuote, quote)
	}

	if escaped {
		cur.WriteRune('\\')
	}

	if inArg {
		args = append(args, cur.String())
	}

	return args, nil
}
