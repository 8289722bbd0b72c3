// Package naming derives canonical unit identifiers and titles from raw
// disc labels and folder names.
package naming

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrNoIdentifier indicates the raw label carries no usable digit run.
var ErrNoIdentifier = errors.New("no numeric identifier found")

// IdentifierWidth is the zero-padded width used for storage and display.
const IdentifierWidth = 4

const maxTitleLength = 80

var identifierPattern = regexp.MustCompile(`\d{3,}`)

// titleReplacer drops characters that are unsafe in file and directory names.
var titleReplacer = strings.NewReplacer(
	"/", " ",
	"\\", " ",
	":", " ",
	"*", " ",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

// Unit is the canonical (identifier, title) pair derived from a raw label.
type Unit struct {
	Identifier string
	Title      string
}

// Extract parses the first maximal run of three or more digits out of the raw
// label and returns the zero-padded identifier together with the sanitized
// remaining title. Identical input always yields an identical result.
func Extract(raw string) (Unit, error) {
	loc := identifierPattern.FindStringIndex(raw)
	if loc == nil {
		return Unit{}, fmt.Errorf("%w: %q", ErrNoIdentifier, raw)
	}

	digits := raw[loc[0]:loc[1]]
	remainder := strings.TrimFunc(raw[:loc[0]], isSeparator) + " " + strings.TrimFunc(raw[loc[1]:], isSeparator)

	return Unit{
		Identifier: Pad(digits),
		Title:      normalizeTitle(remainder),
	}, nil
}

// Pad renders a digit run at the fixed identifier width. Runs longer than the
// width are kept intact so large collections stay unambiguous.
func Pad(digits string) string {
	value, err := strconv.Atoi(digits)
	if err != nil {
		return digits
	}
	return fmt.Sprintf("%0*d", IdentifierWidth, value)
}

// Value returns the unpadded integer value of an identifier for ordering.
func Value(identifier string) (int, error) {
	value, err := strconv.Atoi(identifier)
	if err != nil {
		return 0, fmt.Errorf("identifier %q is not numeric: %w", identifier, err)
	}
	return value, nil
}

// DisplayTitle renders a stored title for human-facing output, e.g.
// "movie_title" becomes "Movie Title".
func DisplayTitle(title string) string {
	spaced := strings.ReplaceAll(title, "_", " ")
	return cases.Title(language.Und).String(strings.TrimSpace(spaced))
}

func normalizeTitle(text string) string {
	text = titleReplacer.Replace(text)
	var b strings.Builder
	pendingSep := false
	for _, r := range text {
		if isSeparator(r) {
			if b.Len() > 0 {
				pendingSep = true
			}
			continue
		}
		if pendingSep {
			b.WriteByte('_')
			pendingSep = false
		}
		b.WriteRune(r)
	}
	title := b.String()
	if len(title) > maxTitleLength {
		cut := maxTitleLength
		for cut > 0 && !utf8.RuneStart(title[cut]) {
			cut--
		}
		title = strings.TrimRight(title[:cut], "_")
	}
	return title
}

func isSeparator(r rune) bool {
	switch r {
	case ' ', '-', '_', '\t', '.':
		return true
	}
	return false
}
