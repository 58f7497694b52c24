package preview

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateResolveRelease(t *testing.T) {
	r := NewRegistry()

	h := r.Create([]byte("pcm"), "audio/wav")
	require.NotEmpty(t, h)
	assert.Equal(t, 1, r.Len())

	res, err := r.Resolve(h)
	require.NoError(t, err)
	assert.False(t, res.Remote())
	assert.Equal(t, []byte("pcm"), res.Data)
	assert.Equal(t, "audio/wav", res.MediaType)

	r.Release(h)
	assert.Equal(t, 0, r.Len())
	_, err = r.Resolve(h)
	assert.ErrorIs(t, err, ErrUnknownHandle)

	r.Release(h)
	r.Release("")
	assert.Equal(t, 0, r.Len())
}

func TestLinkIsRemote(t *testing.T) {
	r := NewRegistry()
	h := r.Link("http://svc/download/enh123.wav", "")

	res, err := r.Resolve(h)
	require.NoError(t, err)
	assert.True(t, res.Remote())
	assert.Equal(t, "http://svc/download/enh123.wav", res.URL)
}

func TestHandlesAreUnique(t *testing.T) {
	r := NewRegistry()
	seen := map[Handle]bool{}
	for i := 0; i < 100; i++ {
		h := r.Create(nil, "")
		assert.False(t, seen[h])
		seen[h] = true
	}
	assert.Equal(t, 100, r.Len())
}
