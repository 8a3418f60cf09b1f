package main

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckChainID(t *testing.T) {
	assert.NoError(t, checkChainID(big.NewInt(84532), 84532))
	assert.NoError(t, checkChainID(big.NewInt(1), 0), "zero disables the check")

	err := checkChainID(big.NewInt(1), 84532)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chain 1")
	assert.Contains(t, err.Error(), "84532")

	assert.Error(t, checkChainID(nil, 84532))
}

func TestTrackMetaFromArgs(t *testing.T) {
	meta := trackMetaFromArgs([]string{"song.mp3", "Title", "Artist", "Album"})
	assert.Equal(t, "Title", meta.Title)
	assert.Equal(t, "Artist", meta.Artist)
	assert.Equal(t, "Album", meta.Album)

	assert.Zero(t, trackMetaFromArgs([]string{"song.mp3"}))
}
