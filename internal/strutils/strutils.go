// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package strutils

import "strings"

// StrListContains looks for a string in a list of strings.
func StrListContains(haystack []string, needle string) bool {
	for _, item := range haystack {
		if item == needle {
			return true
		}
	}
	return false
}

// StrListContainsAll reports whether every needle is in the haystack.
func StrListContainsAll(haystack []string, needles []string) bool {
	for _, n := range needles {
		if !StrListContains(haystack, n) {
			return false
		}
	}
	return true
}

// SplitScopes splits a space delimited oauth scope string, dropping empty
// entries.
func SplitScopes(s string) []string {
	return strings.Fields(s)
}

// JoinScopes is the inverse of SplitScopes.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}
