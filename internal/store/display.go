package store

import "strings"

// FormatPhone turns a channel identifier such as "5541984469423@s.whatsapp.net"
// into a readable number. Brazilian mobile numbers (55 + DDD + 9 digits) are
// rendered as "41 98446-9423"; anything else is returned as bare digits.
func FormatPhone(id string) string {
	number, _, _ := strings.Cut(id, "@")
	number = strings.TrimPrefix(strings.TrimSpace(number), "+")
	if number == "" {
		return "Unknown"
	}
	if strings.HasPrefix(number, "55") && len(number) == 13 && isDigits(number) {
		ddd := number[2:4]
		rest := number[4:]
		return ddd + " " + rest[:5] + "-" + rest[5:]
	}
	return number
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
