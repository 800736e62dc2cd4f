package xgrpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_ParseFullMethod(t *testing.T) {
	service, method, err := ParseFullMethod("/nd6.Inspect/Routes")

	require.NoError(t, err)
	assert.Equal(t, "nd6.Inspect", service)
	assert.Equal(t, "Routes", method)
}

func Test_ParseFullMethodNoLeadingSlash(t *testing.T) {
	service, method, err := ParseFullMethod("nd6.Inspect/Routes")

	require.Error(t, err)
	assert.Equal(t, "", service)
	assert.Equal(t, "", method)
}

func Test_ParseFullMethodNoMethod(t *testing.T) {
	service, method, err := ParseFullMethod("/nd6.Inspect")

	require.Error(t, err)
	assert.Equal(t, "", service)
	assert.Equal(t, "", method)
}
