package reveal

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Mask renders the default, non-sensitive view of a field.
func Mask(kind FieldKind, value string) string {
	value = norm.NFC.String(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	switch kind {
	case KindEmail:
		return maskEmail(value)
	case KindPhone:
		return maskPhone(value)
	case KindName:
		return maskName(value)
	default:
		return "***"
	}
}

// maskEmail keeps up to three leading characters of the local part and the domain.
func maskEmail(value string) string {
	at := strings.LastIndex(value, "@")
	if at <= 0 {
		return "***"
	}
	local, domain := value[:at], value[at:]
	keep := []rune(local)
	if len(keep) > 3 {
		keep = keep[:3]
	}
	if len(keep) == utf8.RuneCountInString(local) {
		keep = keep[:1]
	}
	return string(keep) + "***" + domain
}

// maskPhone keeps the last four digits.
func maskPhone(value string) string {
	digits := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsDigit(r) {
			digits = append(digits, r)
		}
	}
	if len(digits) <= 4 {
		return "***"
	}
	return strings.Repeat("*", len(digits)-4) + string(digits[len(digits)-4:])
}

// maskName keeps the first character, e.g. 김민지 -> 김**.
func maskName(value string) string {
	runes := []rune(value)
	if len(runes) == 1 {
		return "*"
	}
	return string(runes[0]) + strings.Repeat("*", len(runes)-1)
}
