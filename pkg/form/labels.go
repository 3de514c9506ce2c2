package form

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// Label turns a field name written in snake, kebab or camel case into
// Title Case words: "synonyms_slug" and "synonymsSlug" are "Synonyms Slug".
func Label(name string) string {
	return titleCaser.String(strings.Join(words(name), " "))
}

// PathName formats a route segment such as "/blog-posts" for display.
func PathName(path string) string {
	return Label(strings.Trim(path, "/"))
}

// PageTitle is the heading of a collection page in the given mode.
func PageTitle(collection string, mode Mode) string {
	name := PathName(collection)

	switch mode {
	case ModeCreate:
		return "Add " + name
	case ModeEdit:
		return "Edit " + name
	case ModeView:
		return "View " + name
	}

	return name
}

// ListTitle is the heading of a collection list page.
func ListTitle(collection string) string {
	return PathName(collection) + " List"
}

func words(s string) []string {
	var (
		out  []string
		cur  []rune
		prev rune
	)

	flush := func() {
		if len(cur) > 0 {
			out = append(out, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}

	for _, r := range s {
		switch {
		case r == '_' || r == '-' || unicode.IsSpace(r):
			flush()
		case unicode.IsUpper(r) && prev != 0 && (unicode.IsLower(prev) || unicode.IsDigit(prev)):
			flush()
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
		prev = r
	}
	flush()

	return out
}
