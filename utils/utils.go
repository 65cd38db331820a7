package utils

import (
	"math/rand"
	"os"
	"regexp"
	"strings"
	"time"
)

// ValidUIDPattern matches the DHIS2 UID shape
var ValidUIDPattern = regexp.MustCompile(`^[a-zA-Z0-9]{11}$`)

// GetDefaultEnv Returns default value passed if env variable not defined
func GetDefaultEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

const alphabet = `abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ`
const allowedCharacters = "0123456789" + alphabet
const uppercaseAlnum = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
const codeSize = 11

// GetUID return a Unique ID for our resources. All 11 positions are drawn
// uniformly from [a-zA-Z0-9] - the first character is NOT forced to be a
// letter, matching the behaviour the rest of the system was built against.
func GetUID() string {
	source := rand.NewSource(time.Now().UnixNano())
	r := rand.New(source)

	numberOfCodePoints := len(allowedCharacters)

	var s strings.Builder
	s.Grow(codeSize)

	for i := 0; i < codeSize; i++ {
		s.WriteByte(allowedCharacters[r.Intn(numberOfCodePoints)])
	}

	return s.String()
}

// GenerateCode pads prefix with random uppercase alphanumerics up to length
func GenerateCode(prefix string, length int) string {
	if len(prefix) >= length {
		return prefix[:length]
	}
	source := rand.NewSource(time.Now().UnixNano())
	r := rand.New(source)

	var s strings.Builder
	s.Grow(length)
	s.WriteString(prefix)
	for i := len(prefix); i < length; i++ {
		s.WriteByte(uppercaseAlnum[r.Intn(len(uppercaseAlnum))])
	}
	return s.String()
}

// TruncateString shortens s to at most max characters
func TruncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// SliceContains checks if a string is present in a slice
func SliceContains(s []string, str string) bool {
	for _, v := range s {
		if v == str {
			return true
		}
	}
	return false
}
