package spool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgbackrest/pgbackrest-sub008/ioerr"
	"github.com/pgbackrest/pgbackrest-sub008/log"
	"github.com/pgbackrest/pgbackrest-sub008/storage/posix"
)

func TestCheckReturnsFalseWhenNoStatusFileExists(t *testing.T) {
	store := posix.New(t.TempDir(), nil)
	ok, err := Check(context.Background(), store, "000000010000000100000001", true, log.Nop{})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWriteOkThenCheckReturnsSuccess(t *testing.T) {
	store := posix.New(t.TempDir(), nil)
	segment := "000000010000000100000001"
	require.NoError(t, WriteOk(context.Background(), store, segment, Status{}))

	ok, err := Check(context.Background(), store, segment, true, log.Nop{})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestWriteOkWithManualSkipLogsWarningAndReturnsSuccess(t *testing.T) {
	store := posix.New(t.TempDir(), nil)
	segment := "000000010000000100000001"
	require.NoError(t, WriteOk(context.Background(), store, segment, Status{Code: 25, Message: "message"}))

	ok, err := Check(context.Background(), store, segment, true, log.Nop{})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestWriteErrorWithEmptyMessageFailsToWrite(t *testing.T) {
	store := posix.New(t.TempDir(), nil)
	err := WriteError(context.Background(), store, "000000010000000100000001", Status{})
	require.Error(t, err)
	require.Equal(t, ioerr.KindAssert, ioerr.KindOf(err))
}

func TestCheckConfessOnErrorSurfacesTheWrittenStatus(t *testing.T) {
	store := posix.New(t.TempDir(), nil)
	segment := "000000010000000100000001"
	require.NoError(t, WriteError(context.Background(), store, segment, Status{Code: 25, Message: "permission denied"}))

	ok, err := Check(context.Background(), store, segment, true, log.Nop{})
	require.False(t, ok)
	require.Error(t, err)
	require.Equal(t, "permission denied", err.(*ioerr.Error).Message)
}

func TestCheckWithoutConfessOnErrorIgnoresTheErrorFile(t *testing.T) {
	store := posix.New(t.TempDir(), nil)
	segment := "000000010000000100000001"
	require.NoError(t, WriteError(context.Background(), store, segment, Status{Code: 25, Message: "permission denied"}))

	ok, err := Check(context.Background(), store, segment, false, log.Nop{})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCheckMultipleStatusFilesIsAnAssertionFailure(t *testing.T) {
	store := posix.New(t.TempDir(), nil)
	segment := "000000010000000100000001"
	require.NoError(t, WriteOk(context.Background(), store, segment, Status{}))
	require.NoError(t, WriteError(context.Background(), store, segment, Status{Code: 1, Message: "boom"}))

	_, err := Check(context.Background(), store, segment, true, log.Nop{})
	require.Error(t, err)
	require.Equal(t, ioerr.KindAssert, ioerr.KindOf(err))
}
