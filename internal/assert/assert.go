// Package assert panics when an internal invariant is broken. It guards
// values the program generates itself, never user input.
package assert

import "fmt"

// Length panics unless value is exactly expected bytes long
func Length(what, value string, expected int) {
	if len(value) != expected {
		panic(fmt.Sprintf("assert.Length: %s expected %d bytes, got %d", what, expected, len(value)))
	}
}

// Digits panics unless value consists only of ASCII digits
func Digits(what, value string) {
	for i := 0; i < len(value); i++ {
		if value[i] < '0' || value[i] > '9' {
			panic(fmt.Sprintf("assert.Digits: %s has non-digit at offset %d", what, i))
		}
	}
}
