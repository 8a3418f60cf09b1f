package contentid

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const owner = "0x52908400098527886E0F7030069857D2E4169EE7"

func TestTrackID_MetadataDeterministic(t *testing.T) {
	a, err := TrackID("Hey  Jude", "The Beatles", "", "", "")
	require.NoError(t, err)
	b, err := TrackID("hey jude", "the  beatles", "", "", "")
	require.NoError(t, err)
	assert.Equal(t, a, b, "normalization must make casing and spacing irrelevant")

	c, err := TrackID("Hey Jude", "The Rolling Stones", "", "", "")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestTrackID_MBIDPrecedence(t *testing.T) {
	mbid := "b1a9c0e9-d987-4042-ae91-78d6a3267d69"
	withMeta, err := TrackID("Title", "Artist", "Album", mbid, "")
	require.NoError(t, err)
	bare, err := TrackID("", "", "", mbid, "")
	require.NoError(t, err)
	assert.Equal(t, bare, withMeta, "metadata must not affect an MBID-based id")
}

func TestTrackID_MBIDValidation(t *testing.T) {
	_, err := TrackID("", "", "", "zzzz", "")
	require.Error(t, err)

	_, err = TrackID("", "", "", "b1a9c0e9", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 16 bytes")
}

func TestTrackID_IPAsset(t *testing.T) {
	withPrefix, err := TrackID("", "", "", "", owner)
	require.NoError(t, err)
	withoutPrefix, err := TrackID("", "", "", "", strings.TrimPrefix(owner, "0x"))
	require.NoError(t, err)
	assert.Equal(t, withPrefix, withoutPrefix)

	_, err = TrackID("", "", "", "", "0xnot-an-address")
	require.Error(t, err)
}

func TestContentID_OwnerCaseInsensitive(t *testing.T) {
	trackID, err := TrackID("Song", "Band", "", "", "")
	require.NoError(t, err)

	upper, err := ContentID(trackID, owner)
	require.NoError(t, err)
	lower, err := ContentID(trackID, strings.ToLower(owner))
	require.NoError(t, err)
	assert.Equal(t, upper, lower)

	_, err = ContentID(trackID, "0x123")
	require.Error(t, err)
}

func TestNormalizeHex32(t *testing.T) {
	got, err := NormalizeHex32("0xAB", "contentId")
	require.NoError(t, err)
	assert.Equal(t, "0x"+strings.Repeat("0", 62)+"ab", got)

	full := "0x" + strings.Repeat("1f", 32)
	got, err = NormalizeHex32(strings.ToUpper(full), "contentId")
	require.NoError(t, err)
	assert.Equal(t, full, got)

	_, err = NormalizeHex32("", "contentId")
	require.Error(t, err)

	_, err = NormalizeHex32("0x"+strings.Repeat("00", 33), "contentId")
	require.Error(t, err)
}

func TestDecodeHex32_LeftPads(t *testing.T) {
	h, err := DecodeHex32("ff", "value")
	require.NoError(t, err)
	want := common.Hash{}
	want[31] = 0xff
	assert.Equal(t, want, h)
}

func TestBytesFromPieceRef(t *testing.T) {
	b, err := BytesFromPieceRef("0xdeadbeef")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, b)

	b, err = BytesFromPieceRef("bafy-some-ref")
	require.NoError(t, err)
	assert.Equal(t, []byte("bafy-some-ref"), b)

	_, err = BytesFromPieceRef("0xzz")
	require.Error(t, err)
}

func TestInferTrackMeta(t *testing.T) {
	title, artist, album := InferTrackMeta("/music/The Beatles - Hey Jude.mp3")
	assert.Equal(t, "Hey Jude", title)
	assert.Equal(t, "The Beatles", artist)
	assert.Empty(t, album)

	title, artist, _ = InferTrackMeta("/music/untagged.flac")
	assert.Equal(t, "untagged", title)
	assert.Equal(t, "Unknown Artist", artist)
}
