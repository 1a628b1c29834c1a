package darajaclient

import "strings"

const countryCallingCode = "254"

// NormalizePhone converts a phone number into the provider's required
// international format (254XXXXXXXXX). Non-digit characters, including a
// leading "+", are stripped first; a leading "0" is replaced with the country
// calling code and a bare local-format number gets the code prepended. Numbers
// already carrying the code pass through unchanged.
func NormalizePhone(raw string) string {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	phone := digits.String()

	switch {
	case phone == "":
		return phone
	case strings.HasPrefix(phone, countryCallingCode):
		return phone
	case strings.HasPrefix(phone, "0"):
		return countryCallingCode + phone[1:]
	default:
		return countryCallingCode + phone
	}
}
