package playback

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readyCoordinator() *Coordinator {
	c := NewCoordinator()
	c.SetAvailable(Original, true)
	c.SetAvailable(Enhanced, true)
	return c
}

func TestPlayPausesOther(t *testing.T) {
	c := readyCoordinator()

	require.NoError(t, c.Play(Original))
	assert.True(t, c.IsPlaying(Original))

	require.NoError(t, c.Play(Enhanced))
	assert.False(t, c.IsPlaying(Original))
	assert.True(t, c.IsPlaying(Enhanced))

	ch, ok := c.Playing()
	require.True(t, ok)
	assert.Equal(t, Enhanced, ch)
}

func TestToggle(t *testing.T) {
	c := readyCoordinator()

	require.NoError(t, c.Toggle(Original))
	assert.True(t, c.IsPlaying(Original))

	require.NoError(t, c.Toggle(Original))
	assert.False(t, c.IsPlaying(Original))
	_, ok := c.Playing()
	assert.False(t, ok)

	require.NoError(t, c.Toggle(Original))
	require.NoError(t, c.Toggle(Enhanced))
	assert.False(t, c.IsPlaying(Original))
	assert.True(t, c.IsPlaying(Enhanced))
}

func TestUnavailableChannelCannotPlay(t *testing.T) {
	c := NewCoordinator()
	c.SetAvailable(Original, true)

	err := c.Play(Enhanced)
	assert.ErrorIs(t, err, ErrChannelUnavailable)
	assert.ErrorIs(t, c.Toggle(Enhanced), ErrChannelUnavailable)
	assert.False(t, c.IsPlaying(Enhanced))

	assert.ErrorIs(t, c.Play(Channel(7)), ErrUnknownChannel)
}

func TestRemovingHandlePausesChannel(t *testing.T) {
	c := readyCoordinator()
	require.NoError(t, c.Play(Enhanced))

	c.SetAvailable(Enhanced, false)
	assert.False(t, c.IsPlaying(Enhanced))
	assert.False(t, c.Available(Enhanced))
}

func TestChangeOrderPausesBeforeStart(t *testing.T) {
	c := readyCoordinator()
	var got []Change
	c.OnChange(func(ch Change) { got = append(got, ch) })

	require.NoError(t, c.Play(Original))
	require.NoError(t, c.Play(Enhanced))
	require.NoError(t, c.Play(Enhanced))
	c.Pause(Enhanced)
	c.Pause(Enhanced)

	assert.Equal(t, []Change{
		{Channel: Original, Playing: true},
		{Channel: Original, Playing: false},
		{Channel: Enhanced, Playing: true},
		{Channel: Enhanced, Playing: false},
	}, got)
}

func TestNeverBothPlayingUnderContention(t *testing.T) {
	c := readyCoordinator()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); _ = c.Toggle(Original) }()
		go func() { defer wg.Done(); _ = c.Play(Enhanced) }()
	}
	wg.Wait()

	assert.False(t, c.IsPlaying(Original) && c.IsPlaying(Enhanced))
}

func TestParseChannel(t *testing.T) {
	ch, err := ParseChannel("enhanced")
	require.NoError(t, err)
	assert.Equal(t, Enhanced, ch)
	assert.Equal(t, "original", Original.String())

	_, err = ParseChannel("both")
	assert.ErrorIs(t, err, ErrUnknownChannel)
}
