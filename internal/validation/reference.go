// Package validation содержит проверки пользовательского ввода.
package validation

// IsValidReference проверяет последние пять цифр платёжного поручения:
// ровно пять символов, только цифры.
func IsValidReference(ref string) bool {
	if len(ref) != 5 {
		return false
	}

	for _, r := range ref {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}
