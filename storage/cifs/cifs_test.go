package cifs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pgbackrest/pgbackrest-sub008/iostream"
	"github.com/pgbackrest/pgbackrest-sub008/storage"
)

func TestWriteReadRoundTripThroughMountedPath(t *testing.T) {
	s := New(Config{MountPath: t.TempDir()}, nil)

	w, err := s.NewWrite(context.Background(), storage.WriteParams{Name: "archive/00000001"})
	require.NoError(t, err)
	buf := iostream.NewBuffer(16)
	buf.Cat([]byte("payload"))
	require.NoError(t, w.Write(buf))
	require.NoError(t, w.Close())

	info, err := s.Info(context.Background(), "archive/00000001", storage.LevelBasic, false)
	require.NoError(t, err)
	require.True(t, info.Exists)
	require.Equal(t, int64(len("payload")), info.Size)
}

func TestCaseInsensitiveNormalizesLookup(t *testing.T) {
	s := New(Config{MountPath: t.TempDir(), CaseInsensitive: true}, nil)

	w, err := s.NewWrite(context.Background(), storage.WriteParams{Name: "MixedCase.txt"})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	info, err := s.Info(context.Background(), "MIXEDCASE.TXT", storage.LevelBasic, false)
	require.NoError(t, err)
	require.True(t, info.Exists)
}

func TestHideSpecialSharesFiltersListing(t *testing.T) {
	root := t.TempDir()
	s := New(Config{MountPath: root, HideSpecialShares: true}, nil)

	for _, name := range []string{"print$", "ipc$", "data"} {
		require.NoError(t, s.PathCreate(context.Background(), name, false, false, 0))
	}

	entries, err := s.List(context.Background(), "", storage.LevelExists, time.Time{})
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	require.ElementsMatch(t, []string{"data"}, names)
}

func TestLinkCreateDelegatesToPosix(t *testing.T) {
	root := t.TempDir()
	s := New(Config{MountPath: root}, nil)

	w, err := s.NewWrite(context.Background(), storage.WriteParams{Name: "target.txt"})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, s.LinkCreate(context.Background(), "target.txt", "link.txt", storage.LinkHard))

	info, err := s.Info(context.Background(), "link.txt", storage.LevelBasic, false)
	require.NoError(t, err)
	require.True(t, info.Exists)
}
