package tenant

import "strings"

var phoneStripper = strings.NewReplacer(" ", "", "(", "", ")", "", "-", "")

// NormalizePhone removes spaces, parentheses and hyphens. Nothing else is
// touched: no country-code inference, no leading '+' handling.
func NormalizePhone(s string) string {
	return phoneStripper.Replace(s)
}
