package util

import (
	"golang.org/x/text/unicode/norm"
)

// Normalize returns the NFKD form of s, used before hashing or comparing
// user-supplied credentials.
func Normalize(s string) string {
	return norm.NFKD.String(s)
}
