package strutils

import (
	"fmt"
	"strings"
	"unicode"
)

const VALID_HEX_DIGITS = "0123456789abcdefABCDEF"

const STRIPPED_UUID_LENGTH = 32

// NormalizeUUID accepts a UUID with any dashes and casing and returns it
// in lowercase 8-4-4-4-12 form.
func NormalizeUUID(uuid string) (string, error) {
	var stripped strings.Builder
	stripped.Grow(STRIPPED_UUID_LENGTH)

	for _, char := range uuid {
		if char == '-' {
			continue
		}
		if !strings.ContainsRune(VALID_HEX_DIGITS, char) {
			return "", fmt.Errorf("invalid character in UUID. input: '%s'", uuid)
		}
		stripped.WriteRune(unicode.ToLower(char))
	}

	hex := stripped.String()
	if len(hex) != STRIPPED_UUID_LENGTH {
		return "", fmt.Errorf("normalized UUID has incorrect length. input: '%s'", uuid)
	}

	return fmt.Sprintf("%s-%s-%s-%s-%s", hex[0:8], hex[8:12], hex[12:16], hex[16:20], hex[20:32]), nil
}
