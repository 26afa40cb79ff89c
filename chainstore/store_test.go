package chainstore_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/spacemeshos/go-rangesync/chainstore"
	"github.com/spacemeshos/go-rangesync/chainstore/chaintest"
	"github.com/spacemeshos/go-rangesync/common/types"
	"github.com/spacemeshos/go-rangesync/log/logtest"
)

const dir = "/data/chains"

func newStore(tb testing.TB) (*chainstore.Store, afero.Fs) {
	fs := afero.NewMemMapFs()
	return chainstore.New(dir,
		chainstore.WithFilesystem(fs),
		chainstore.WithLogger(logtest.New(tb)),
	), fs
}

func TestCreateAndAppend(t *testing.T) {
	store, fs := newStore(t)
	fixture := chaintest.Generate(t, "create", 5)

	chain, err := store.CreateChain(fixture.Blocks[0], fixture.ID)
	require.NoError(t, err)
	t.Cleanup(func() { chain.Close() })
	require.Equal(t, fixture.ID, chain.ID())
	require.EqualValues(t, 1, chain.Count())
	require.Equal(t, fixture.ID.Hash32(), chain.TailHash())

	for _, block := range fixture.Blocks[1:] {
		require.NoError(t, chain.Append(block))
	}
	require.Equal(t, fixture.Count(), chain.Count())
	require.Equal(t, fixture.TailHash, chain.TailHash())

	data, err := afero.ReadFile(fs, store.Path(fixture.ID))
	require.NoError(t, err)
	require.Equal(t, fixture.All(), data)

	for i, expected := range fixture.Blocks {
		block, err := chain.Block(uint64(i))
		require.NoError(t, err)
		require.Equal(t, expected, block)
	}
	_, err = chain.Block(fixture.Count())
	require.Error(t, err)
}

func TestCreateChainRejectsInvalidFirstBlock(t *testing.T) {
	store, _ := newStore(t)
	fixture := chaintest.Generate(t, "invalid-first", 2)
	other := chaintest.Generate(t, "other", 1)

	t.Run("short", func(t *testing.T) {
		_, err := store.CreateChain(fixture.Blocks[0][:100], fixture.ID)
		require.ErrorIs(t, err, chainstore.ErrIntegrity)
		require.ErrorIs(t, err, types.ErrBlockSize)
	})
	t.Run("not block zero", func(t *testing.T) {
		_, err := store.CreateChain(fixture.Blocks[1], fixture.ID)
		require.ErrorIs(t, err, chainstore.ErrIntegrity)
	})
	t.Run("different chain", func(t *testing.T) {
		_, err := store.CreateChain(other.Blocks[0], fixture.ID)
		require.ErrorIs(t, err, chainstore.ErrIntegrity)
	})
	ok, err := store.Exists(fixture.ID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCreateChainTwice(t *testing.T) {
	store, _ := newStore(t)
	fixture := chaintest.Generate(t, "twice", 1)
	fixture.Seed(t, store, 1)

	_, err := store.CreateChain(fixture.Blocks[0], fixture.ID)
	require.ErrorIs(t, err, chainstore.ErrExists)
}

func TestAppendIntegrity(t *testing.T) {
	store, fs := newStore(t)
	fixture := chaintest.Generate(t, "integrity", 4)
	chain := fixture.Seed(t, store, 2)

	tampered := bytes.Clone(fixture.Blocks[2])
	tampered[types.BlockSize-1] ^= 1

	for _, tc := range []struct {
		desc  string
		block []byte
		cause error
	}{
		{"skips a block", fixture.Blocks[3], types.ErrBlockIndex},
		{"repeats the tail", fixture.Blocks[1], types.ErrBlockIndex},
		{"tampered", tampered, types.ErrBlockHash},
		{"short", fixture.Blocks[2][:types.BlockSize-1], types.ErrBlockSize},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			err := chain.Append(tc.block)
			require.ErrorIs(t, err, chainstore.ErrIntegrity)
			require.ErrorIs(t, err, tc.cause)
			require.EqualValues(t, 2, chain.Count())
			require.Equal(t, fixture.Blocks[1][:types.Hash32Length], chain.TailHash().Bytes())

			info, err := fs.Stat(store.Path(fixture.ID))
			require.NoError(t, err)
			require.EqualValues(t, 2*types.BlockSize, info.Size())
		})
	}
	require.NoError(t, chain.Append(fixture.Blocks[2]))
	require.EqualValues(t, 3, chain.Count())
}

func TestAppendLinkFromOtherChain(t *testing.T) {
	store, _ := newStore(t)
	fixture := chaintest.Generate(t, "mine", 2)
	other := chaintest.Generate(t, "theirs", 2)
	chain := fixture.Seed(t, store, 1)

	err := chain.Append(other.Blocks[1])
	require.ErrorIs(t, err, chainstore.ErrIntegrity)
	require.ErrorIs(t, err, types.ErrBlockLink)
}

func TestOpenChain(t *testing.T) {
	store, _ := newStore(t)
	fixture := chaintest.Generate(t, "reopen", 7)
	chain := fixture.Seed(t, store, 7)
	require.NoError(t, chain.Close())
	require.NoError(t, chain.Close())
	require.ErrorIs(t, chain.Append(fixture.Blocks[0]), chainstore.ErrClosed)

	reopened, err := store.OpenChain(fixture.ID)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })
	require.Equal(t, fixture.Count(), reopened.Count())
	require.Equal(t, fixture.TailHash, reopened.TailHash())
}

func TestOpenChainNotFound(t *testing.T) {
	store, _ := newStore(t)
	fixture := chaintest.Generate(t, "missing", 1)
	_, err := store.OpenChain(fixture.ID)
	require.ErrorIs(t, err, chainstore.ErrNotFound)
}

func TestOpenChainCorrupted(t *testing.T) {
	fixture := chaintest.Generate(t, "corrupted", 3)
	swapped := append(append(bytes.Clone(fixture.Blocks[0]), fixture.Blocks[2]...), fixture.Blocks[1]...)
	for _, tc := range []struct {
		desc string
		data []byte
	}{
		{"empty", nil},
		{"partial block", fixture.All()[:2*types.BlockSize+10]},
		{"reordered", swapped},
		{"foreign genesis", chaintest.Generate(t, "foreign", 1).All()},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			store, fs := newStore(t)
			require.NoError(t, fs.MkdirAll(dir, 0o700))
			require.NoError(t, afero.WriteFile(fs, store.Path(fixture.ID), tc.data, 0o600))
			_, err := store.OpenChain(fixture.ID)
			require.ErrorIs(t, err, chainstore.ErrCorrupted)
		})
	}
}

type failingFile struct {
	afero.File
	failSync bool
}

func (f *failingFile) Sync() error {
	if f.failSync {
		return errors.New("disk on fire")
	}
	return f.File.Sync()
}

type failingFs struct {
	afero.Fs
	file *failingFile
}

func (f *failingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	file, err := f.Fs.OpenFile(name, flag, perm)
	if err != nil || filepath.Ext(name) != "" {
		return file, err
	}
	f.file = &failingFile{File: file}
	return f.file, nil
}

func TestAppendIsAllOrNothing(t *testing.T) {
	fs := &failingFs{Fs: afero.NewMemMapFs()}
	store := chainstore.New(dir, chainstore.WithFilesystem(fs))
	fixture := chaintest.Generate(t, "rollback", 3)
	chain := fixture.Seed(t, store, 2)

	fs.file.failSync = true
	require.Error(t, chain.Append(fixture.Blocks[2]))
	require.EqualValues(t, 2, chain.Count())
	info, err := fs.Stat(store.Path(fixture.ID))
	require.NoError(t, err)
	require.EqualValues(t, 2*types.BlockSize, info.Size())

	fs.file.failSync = false
	require.NoError(t, chain.Append(fixture.Blocks[2]))
	require.Equal(t, fixture.TailHash, chain.TailHash())
}

func TestListChains(t *testing.T) {
	store, fs := newStore(t)
	ids, err := store.ListChains()
	require.NoError(t, err)
	require.Empty(t, ids)

	first := chaintest.Generate(t, "first", 1)
	second := chaintest.Generate(t, "second", 1)
	first.Seed(t, store, 1)
	second.Seed(t, store, 1)
	require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, "README"), []byte("x"), 0o600))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, first.ID.String()+"-1.tmp"), []byte("x"), 0o600))

	ids, err = store.ListChains()
	require.NoError(t, err)
	require.ElementsMatch(t, []types.ChainID{first.ID, second.ID}, ids)
}
