package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidEmail(t *testing.T) {
	t.Parallel()

	valid := []string{"alice@example.com", "a.b+c@sub.domain.io", "X@Y.ZZ"}
	invalid := []string{"", "alice", "alice@", "@example.com", "alice@example", "al ice@example.com", "a@b@c.com",
		strings.Repeat("a", 250) + "@ex.com"}

	for _, e := range valid {
		assert.True(t, ValidEmail(e), e)
	}
	for _, e := range invalid {
		assert.False(t, ValidEmail(e), e)
	}
}

func TestStrongPassword(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"Str0ng!Pass":  true,
		"Aa1@aaaa":     true,
		"Aa1@aaa":      false, // too short
		"str0ng!pass":  false, // no upper
		"STR0NG!PASS":  false, // no lower
		"Strong!Pass":  false, // no digit
		"Str0ngPass":   false, // no symbol
		"Str0ng!Pass#": false, // symbol outside the allowed set
		"Str0ng! Pass": false,
		"Str0ng!Päss":  false,
	}
	for pw, want := range cases {
		assert.Equal(t, want, StrongPassword(pw), pw)
	}
	assert.False(t, StrongPassword("Aa1@"+strings.Repeat("a", 80)))
}
