package fatfs

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/aligator/fatfs/blockdev"
	"github.com/diskfs/go-diskfs/filesystem/fat32"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestInterop_readForeignImage mounts a FAT32 image which was written by go-diskfs.
func TestInterop_readForeignImage(t *testing.T) {
	const size = 40 * 1024 * 1024
	image := filepath.Join(t.TempDir(), "foreign.img")

	f, err := os.Create(image)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(size))

	foreign, err := fat32.Create(f, size, 0, 512, "TESTVOL")
	require.NoError(t, err)

	files := map[string][]byte{
		"/HELLO.TXT":          []byte("Hello World"),
		"/Long File Name.txt": pattern(2000),
	}
	for name, content := range files {
		file, err := foreign.OpenFile(name, os.O_CREATE|os.O_RDWR)
		require.NoError(t, err)
		_, err = file.Write(content)
		require.NoError(t, err)
		require.NoError(t, file.Close())
	}
	require.NoError(t, foreign.Mkdir("/DATA"))
	require.NoError(t, f.Close())

	dev, err := blockdev.OpenImage(afero.NewOsFs(), image, true)
	require.NoError(t, err)
	defer dev.Close()

	fs := testingNew(t, dev, Config{ReadOnly: true})
	assert.Equal(t, FAT32, fs.FATType())

	label, err := fs.Label()
	require.NoError(t, err)
	assert.Equal(t, "TESTVOL", label)

	for name, want := range files {
		got, err := afero.ReadFile(fs, name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	info, err := fs.Stat("/data")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	names, err := readDirNames(fs, "/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"HELLO.TXT", "Long File Name.txt", "DATA"}, names)

	// Nothing may be written to a read only volume.
	_, err = fs.Create("/new.txt")
	assert.ErrorIs(t, err, syscall.EROFS)
}
