package delivery

import (
	"strings"

	"github.com/ttacon/libphonenumber"
)

// RenderTemplate substitutes {key} placeholders. Unknown placeholders are
// left in place; known ones with an empty value render as empty.
func RenderTemplate(template string, data map[string]string) string {
	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// NormalizePhone returns the number in E.164. Numbers without a country
// code are read in the given region.
func NormalizePhone(raw, region string) (string, bool) {
	num, err := libphonenumber.Parse(strings.TrimSpace(raw), region)
	if err != nil || !libphonenumber.IsValidNumber(num) {
		return "", false
	}
	return libphonenumber.Format(num, libphonenumber.E164), true
}
