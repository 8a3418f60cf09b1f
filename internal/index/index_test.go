package index

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotheaven/heaven-core/internal/common"
)

var dbSeq int

func testRepos(t *testing.T) *Repositories {
	t.Helper()
	dbSeq++
	dsn := fmt.Sprintf("file:indextest%d?mode=memory&cache=shared", dbSeq)
	repos, err := InitDatabase(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { repos.DB.Close() })
	return repos
}

func sampleUploaded() *UploadedRecord {
	return &UploadedRecord{
		OwnerAddress: "0xAAAA0000000000000000000000000000000000aa",
		ContentID:    "0xC0FFEE00000000000000000000000000000000000000000000000000000000ee",
		FilePath:     "/music/artist - title.mp3",
		PieceRef:     "piece-ref-1",
		GatewayURL:   "https://gw.example/resolve/piece-ref-1",
		TxHash:       "0xtx1",
	}
}

func TestUploaded_UpsertAndLookup(t *testing.T) {
	repos := testRepos(t)
	ctx := context.Background()

	rec := sampleUploaded()
	require.NoError(t, repos.Uploaded.Upsert(ctx, rec))
	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())

	byID, err := repos.Uploaded.GetByContentID(ctx, "0xAAAA0000000000000000000000000000000000AA", rec.ContentID)
	require.NoError(t, err, "owner lookup is case-insensitive")
	assert.Equal(t, rec.PieceRef, byID.PieceRef)
	assert.True(t, byID.Valid())

	byPath, err := repos.Uploaded.GetByPath(ctx, rec.OwnerAddress, rec.FilePath)
	require.NoError(t, err)
	assert.Equal(t, byID.ID, byPath.ID)
}

func TestUploaded_UpsertUpdatesInPlace(t *testing.T) {
	repos := testRepos(t)
	ctx := context.Background()

	rec := sampleUploaded()
	require.NoError(t, repos.Uploaded.Upsert(ctx, rec))

	update := sampleUploaded()
	update.PieceRef = "piece-ref-2"
	update.TxHash = "" // an empty update must not erase the stored hash
	update.SavedForever = true
	require.NoError(t, repos.Uploaded.Upsert(ctx, update))

	got, err := repos.Uploaded.GetByContentID(ctx, rec.OwnerAddress, rec.ContentID)
	require.NoError(t, err)
	assert.Equal(t, "piece-ref-2", got.PieceRef)
	assert.Equal(t, "0xtx1", got.TxHash)
	assert.True(t, got.SavedForever)
}

func TestUploaded_NotFound(t *testing.T) {
	repos := testRepos(t)
	_, err := repos.Uploaded.GetByContentID(context.Background(), "0xaa", "0xmissing")
	require.ErrorIs(t, err, common.ErrNotFound)

	_, err = repos.Uploaded.GetByPath(context.Background(), "0xaa", "/nope.mp3")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestUploaded_MarkSavedForever(t *testing.T) {
	repos := testRepos(t)
	ctx := context.Background()

	rec := sampleUploaded()
	require.NoError(t, repos.Uploaded.Upsert(ctx, rec))
	require.NoError(t, repos.Uploaded.MarkSavedForever(ctx, rec.OwnerAddress, rec.ContentID))

	got, err := repos.Uploaded.GetByContentID(ctx, rec.OwnerAddress, rec.ContentID)
	require.NoError(t, err)
	assert.True(t, got.SavedForever)

	err = repos.Uploaded.MarkSavedForever(ctx, rec.OwnerAddress, "0xother")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestUploadedRecord_Valid(t *testing.T) {
	assert.False(t, (*UploadedRecord)(nil).Valid())
	assert.False(t, (&UploadedRecord{ContentID: "0xabc"}).Valid())
	assert.False(t, (&UploadedRecord{PieceRef: "p", ContentID: "abc"}).Valid())
	assert.True(t, (&UploadedRecord{PieceRef: "p", ContentID: "0xabc"}).Valid())
}

func TestGrants_AppendAndList(t *testing.T) {
	repos := testRepos(t)
	ctx := context.Background()

	first := &GrantRecord{
		OwnerAddress:   "0xAAAA0000000000000000000000000000000000aa",
		GranteeAddress: "0xBBBB0000000000000000000000000000000000bb",
		ContentID:      "0xC0FFEE",
		TxHash:         "0xg1",
		SharedAt:       time.Now().UTC().Add(-time.Hour),
	}
	second := &GrantRecord{
		OwnerAddress:   first.OwnerAddress,
		GranteeAddress: first.GranteeAddress,
		ContentID:      "0xC0FFEE",
		TxHash:         "0xg2",
	}
	require.NoError(t, repos.Grants.Append(ctx, first))
	require.NoError(t, repos.Grants.Append(ctx, second))

	byContent, err := repos.Grants.ListByContentID(ctx, "0xc0ffee")
	require.NoError(t, err)
	require.Len(t, byContent, 2)
	assert.Equal(t, "0xg2", byContent[0].TxHash, "newest first")

	byGrantee, err := repos.Grants.ListByGrantee(ctx, "0xBBBB0000000000000000000000000000000000BB")
	require.NoError(t, err)
	assert.Len(t, byGrantee, 2)
}
