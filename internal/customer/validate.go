package customer

import "regexp"

var (
	passwordLower   = regexp.MustCompile(`[a-z]`)
	passwordUpper   = regexp.MustCompile(`[A-Z]`)
	passwordDigit   = regexp.MustCompile(`\d`)
	passwordSpecial = regexp.MustCompile(`[^a-zA-Z0-9]`)
	phonePattern    = regexp.MustCompile(`^[+]?[0-9]{10,13}$`)
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// ValidLogin reports whether a login is between 3 and 20 characters.
func ValidLogin(login string) bool {
	return len(login) >= 3 && len(login) <= 20
}

// ValidPassword requires at least 8 characters with one lowercase letter,
// one uppercase letter, one digit and one special character.
func ValidPassword(password string) bool {
	return len(password) >= 8 &&
		passwordLower.MatchString(password) &&
		passwordUpper.MatchString(password) &&
		passwordDigit.MatchString(password) &&
		passwordSpecial.MatchString(password)
}

// ValidPhone accepts 10-13 digits with an optional leading plus.
func ValidPhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

// ValidEmail checks the standard local-part@domain shape.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// ValidPesel verifies the 11-digit PESEL number including its control digit.
func ValidPesel(pesel string) bool {
	if len(pesel) != 11 {
		return false
	}
	digits := make([]int, 11)
	for i, r := range pesel {
		if r < '0' || r > '9' {
			return false
		}
		digits[i] = int(r - '0')
	}
	weights := [10]int{1, 3, 7, 9, 1, 3, 7, 9, 1, 3}
	sum := 0
	for i, w := range weights {
		sum += digits[i] * w
	}
	control := (10 - sum%10) % 10
	return control == digits[10]
}
