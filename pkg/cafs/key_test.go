package cafs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	k := Sum([]byte("v1"))
	assert.Len(t, k.String(), KeySizeHex)
	assert.Equal(t, k, Sum([]byte("v1")))
	assert.NotEqual(t, k, Sum([]byte("v2")))

	parsed, err := KeyFromString(k.String())
	require.NoError(t, err)
	assert.Equal(t, k, parsed)

	pth := k.StringWithPrefix("blobs/")
	assert.True(t, strings.HasPrefix(pth, "blobs/"+k.String()[:2]+"/"))
	assert.True(t, strings.HasSuffix(pth, k.String()))

	_, err = KeyFromString("abcd")
	require.Error(t, err)
	var badKey *BadKeySize
	assert.ErrorAs(t, err, &badKey)

	_, err = KeyFromString(strings.Repeat("z", KeySizeHex))
	require.Error(t, err)

	_, err = NewKey([]byte("short"))
	require.Error(t, err)

	assert.Panics(t, func() { _ = MustKeyFromString("") })
}
