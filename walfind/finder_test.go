package walfind

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pgbackrest/pgbackrest-sub008/clock"
	"github.com/pgbackrest/pgbackrest-sub008/ioerr"
	"github.com/pgbackrest/pgbackrest-sub008/iostream"
	"github.com/pgbackrest/pgbackrest-sub008/storage"
	"github.com/pgbackrest/pgbackrest-sub008/storage/posix"
)

func touch(t *testing.T, store storage.Storage, path string) {
	t.Helper()
	w, err := store.NewWrite(context.Background(), storage.WriteParams{Name: path, ModeFile: 0o600, CreatePath: true})
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestSingleModeFindsExactlyOneMatch(t *testing.T) {
	dir := t.TempDir()
	store := posix.New(dir, nil)
	segment := "000000010000000100000001"
	touch(t, store, "archive/main/0000000100000001/"+segment+"-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	f := New(store, "main", true, 0, "")
	got, err := f.Find(context.Background(), segment)
	require.NoError(t, err)
	require.Equal(t, segment+"-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", got)
}

func TestSingleModeZeroTimeoutNotFoundReturnsNoError(t *testing.T) {
	dir := t.TempDir()
	store := posix.New(dir, nil)
	segment := "000000010000000100000001"

	f := New(store, "main", true, 0, "")
	got, err := f.Find(context.Background(), segment)
	require.NoError(t, err)
	require.Equal(t, "", got)
}

func TestSingleModeDuplicateRaisesArchiveDuplicateError(t *testing.T) {
	dir := t.TempDir()
	store := posix.New(dir, nil)
	segment := "000000010000000100000001"
	touch(t, store, "archive/main/0000000100000001/"+segment+"-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	touch(t, store, "archive/main/0000000100000001/"+segment+"-bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	f := New(store, "main", true, 0, "")
	_, err := f.Find(context.Background(), segment)
	require.Error(t, err)
	require.Equal(t, ioerr.KindArchiveDuplicate, ioerr.KindOf(err))
}

func TestSingleModePositiveTimeoutRaisesArchiveTimeoutError(t *testing.T) {
	dir := t.TempDir()
	store := posix.New(dir, nil)
	segment := "000000010000000100000001"

	f := New(store, "main", true, 5*time.Millisecond, "")
	fake := clock.NewFake(time.Unix(0, 0))
	wait := iostream.NewWaitClock(5*time.Millisecond, fake)

	_, err := f.FindWait(context.Background(), segment, wait)
	require.Error(t, err)
	require.Equal(t, ioerr.KindArchiveTimeout, ioerr.KindOf(err))
}

func TestMultiModeConsumesMatchesInOrderAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	store := posix.New(dir, nil)
	seg1 := "000000010000000100000001"
	seg2 := "000000010000000100000002"
	touch(t, store, "archive/main/0000000100000001/"+seg1+"-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	touch(t, store, "archive/main/0000000100000001/"+seg2+"-bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	f := New(store, "main", false, 0, "")

	got1, err := f.Find(context.Background(), seg1)
	require.NoError(t, err)
	require.Equal(t, seg1+"-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", got1)

	got2, err := f.Find(context.Background(), seg2)
	require.NoError(t, err)
	require.Equal(t, seg2+"-bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", got2)
}
