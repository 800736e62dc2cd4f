package link

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcher(t *testing.T) {
	m, err := NewMatcher("wpan*", "eth[01]")
	require.NoError(t, err)

	assert.True(t, m.Match("wpan0"))
	assert.True(t, m.Match("eth1"))
	assert.False(t, m.Match("eth2"))
	assert.False(t, m.Match("lo"))
	assert.Equal(t, []string{"eth0", "wpan3"}, m.Select([]string{"lo", "eth0", "eth2", "wpan3"}))
}

func TestMatcherInvalid(t *testing.T) {
	_, err := NewMatcher("eth[")
	assert.Error(t, err)
}
