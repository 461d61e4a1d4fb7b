package directory

import "strings"

var slugReplacer = strings.NewReplacer(" ", "-", "'", "", "’", "")

// Slug converts a realm or guild display name to its URL form:
// lowercase, spaces become dashes, apostrophes are dropped.
func Slug(name string) string {
	return slugReplacer.Replace(strings.ToLower(strings.TrimSpace(name)))
}
