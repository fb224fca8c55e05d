package assert

import (
	"testing"

	testify "github.com/stretchr/testify/assert"
)

func TestLength(t *testing.T) {
	testify.NotPanics(t, func() { Length("code", "123456", 6) })
	testify.Panics(t, func() { Length("code", "12345", 6) })
}

func TestDigits(t *testing.T) {
	testify.NotPanics(t, func() { Digits("code", "004211") })
	testify.Panics(t, func() { Digits("code", "12a456") })
}
