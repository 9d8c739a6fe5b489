package fatfs

import (
	"bytes"
	"io"
	"os"
	"syscall"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFile_ReadWrite(t *testing.T) {
	for _, fatType := range fatTypes {
		t.Run(fatType.String(), func(t *testing.T) {
			fs := testingFs(t, fatType)
			require.NoError(t, fs.Mkdir("/dir", 0777))

			tests := []struct {
				name string
				path string
				size int
			}{
				{name: "empty", path: "/empty.bin", size: 0},
				{name: "one byte", path: "/one.bin", size: 1},
				{name: "almost one sector", path: "/dir/511.bin", size: 511},
				{name: "one sector", path: "/dir/512.bin", size: 512},
				{name: "one sector and a byte", path: "/513.bin", size: 513},
				{name: "several clusters", path: "/dir/A file with a long name.bin", size: 5000},
				{name: "many clusters", path: "/big.bin", size: 64 * 1024},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					content := pattern(tt.size)
					writeTestFile(t, fs, tt.path, content)

					got, err := afero.ReadFile(fs, tt.path)
					require.NoError(t, err)
					assert.True(t, bytes.Equal(content, got), "content differs")

					info, err := fs.Stat(tt.path)
					require.NoError(t, err)
					assert.Equal(t, int64(tt.size), info.Size())
					assert.Equal(t, testTime, info.ModTime())
				})
			}
		})
	}
}

func TestFile_Read(t *testing.T) {
	fs := testingFs(t, FAT16)
	writeTestFile(t, fs, "/file.txt", []byte("Hello World"))

	tests := []struct {
		name    string
		offset  int64
		p       []byte
		wantN   int
		wantErr error
	}{
		{name: "simple file", p: make([]byte, 11), wantN: 11},
		{name: "read less", p: make([]byte, 5), wantN: 5},
		{name: "read more than the file", p: make([]byte, 20), wantN: 11},
		{name: "read with offset", offset: 6, p: make([]byte, 20), wantN: 5},
		{name: "read at the end", offset: 11, p: make([]byte, 20), wantN: 0, wantErr: io.EOF},
		{name: "read after the end", offset: 30, p: make([]byte, 20), wantN: 0, wantErr: io.EOF},
		{name: "read nothing", p: nil, wantN: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := fs.Open("/file.txt")
			require.NoError(t, err)
			defer f.Close()

			_, err = f.Seek(tt.offset, io.SeekStart)
			require.NoError(t, err)

			gotN, err := f.Read(tt.p)
			if err != tt.wantErr {
				t.Errorf("File.Read() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if gotN != tt.wantN {
				t.Errorf("File.Read() = %v, want %v", gotN, tt.wantN)
			}
			assert.Equal(t, "Hello World"[min(int(tt.offset), 11):][:gotN], string(tt.p[:gotN]))
		})
	}
}

func TestFile_ReadAt(t *testing.T) {
	fs := testingFs(t, FAT32)
	writeTestFile(t, fs, "/file.txt", []byte("0123456789"))

	f, err := fs.Open("/file.txt")
	require.NoError(t, err)
	defer f.Close()

	tests := []struct {
		name    string
		off     int64
		len     int
		want    string
		wantErr error
	}{
		{name: "inside", off: 2, len: 4, want: "2345"},
		{name: "until the end", off: 6, len: 4, want: "6789"},
		{name: "over the end", off: 8, len: 4, want: "89", wantErr: io.EOF},
		{name: "at the end", off: 10, len: 4, want: "", wantErr: io.EOF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := make([]byte, tt.len)
			n, err := f.ReadAt(p, tt.off)
			assert.Equal(t, tt.wantErr, err)
			assert.Equal(t, tt.want, string(p[:n]))
		})
	}

	// ReadAt does not move the offset.
	pos, err := f.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos)
}

func TestFile_Seek(t *testing.T) {
	fs := testingFs(t, FAT16)
	writeTestFile(t, fs, "/file.txt", []byte("0123456789"))

	tests := []struct {
		name      string
		start     int64
		offset    int64
		whence    int
		want      int64
		wantErrno syscall.Errno
	}{
		{name: "start", offset: 3, whence: io.SeekStart, want: 3},
		{name: "current", start: 4, offset: 2, whence: io.SeekCurrent, want: 6},
		{name: "current backwards", start: 4, offset: -4, whence: io.SeekCurrent, want: 0},
		{name: "end", offset: -2, whence: io.SeekEnd, want: 8},
		{name: "after the end", offset: 20, whence: io.SeekStart, want: 20},
		{name: "negative", offset: -1, whence: io.SeekStart, wantErrno: syscall.EINVAL},
		{name: "before the start", start: 2, offset: -3, whence: io.SeekCurrent, wantErrno: syscall.EINVAL},
		{name: "invalid whence", offset: 0, whence: 42, wantErrno: syscall.EINVAL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := fs.Open("/file.txt")
			require.NoError(t, err)
			defer f.Close()

			_, err = f.Seek(tt.start, io.SeekStart)
			require.NoError(t, err)

			got, err := f.Seek(tt.offset, tt.whence)
			if tt.wantErrno != 0 {
				assert.ErrorIs(t, err, tt.wantErrno)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFile_WriteAt(t *testing.T) {
	for _, fatType := range fatTypes {
		t.Run(fatType.String(), func(t *testing.T) {
			fs := testingFs(t, fatType)
			writeTestFile(t, fs, "/file.bin", bytes.Repeat([]byte{'a'}, 1024))

			f, err := fs.OpenFile("/file.bin", os.O_RDWR, 0)
			require.NoError(t, err)

			// Crosses the first sector boundary.
			n, err := f.WriteAt([]byte("bbbb"), 510)
			require.NoError(t, err)
			assert.Equal(t, 4, n)

			// Grows the file.
			n, err = f.WriteAt([]byte("cc"), 1023)
			require.NoError(t, err)
			assert.Equal(t, 2, n)
			require.NoError(t, f.Close())

			want := bytes.Repeat([]byte{'a'}, 1025)
			copy(want[510:], "bbbb")
			copy(want[1023:], "cc")

			got, err := afero.ReadFile(fs, "/file.bin")
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestFile_WriteAfterEnd(t *testing.T) {
	for _, fatType := range fatTypes {
		t.Run(fatType.String(), func(t *testing.T) {
			fs := testingFs(t, fatType)

			// Leave non zero data in the clusters the next file gets.
			writeTestFile(t, fs, "/garbage.bin", bytes.Repeat([]byte{0xFF}, 2000))
			require.NoError(t, fs.Remove("/garbage.bin"))

			f, err := fs.OpenFile("/sparse.bin", os.O_CREATE|os.O_RDWR, 0666)
			require.NoError(t, err)
			pos, err := f.Seek(1500, io.SeekStart)
			require.NoError(t, err)
			assert.Equal(t, int64(1500), pos)

			_, err = f.Write([]byte("end"))
			require.NoError(t, err)
			require.NoError(t, f.Close())

			want := make([]byte, 1503)
			copy(want[1500:], "end")

			got, err := afero.ReadFile(fs, "/sparse.bin")
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestFile_Append(t *testing.T) {
	fs := testingFs(t, FAT32)
	writeTestFile(t, fs, "/log.txt", []byte("abc"))

	f, err := fs.OpenFile("/log.txt", os.O_WRONLY|os.O_APPEND, 0)
	require.NoError(t, err)

	_, err = f.Seek(0, io.SeekStart)
	require.NoError(t, err)
	_, err = f.WriteString("def")
	require.NoError(t, err)

	_, err = f.WriteAt([]byte("x"), 0)
	assert.ErrorIs(t, err, syscall.EINVAL)
	require.NoError(t, f.Close())

	got, err := afero.ReadFile(fs, "/log.txt")
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(got))
}

func TestFile_Truncate(t *testing.T) {
	for _, fatType := range fatTypes {
		t.Run(fatType.String(), func(t *testing.T) {
			fs := testingFs(t, fatType)
			free := freeClusters(t, fs)
			content := pattern(3000)
			writeTestFile(t, fs, "/file.bin", content)

			f, err := fs.OpenFile("/file.bin", os.O_RDWR, 0)
			require.NoError(t, err)
			defer f.Close()

			tests := []struct {
				name         string
				size         int64
				want         []byte
				wantClusters uint32
			}{
				{name: "shrink", size: 700, want: content[:700], wantClusters: 2},
				{name: "grow", size: 1200, want: append(append([]byte{}, content[:700]...), make([]byte, 500)...), wantClusters: 3},
				{name: "same size", size: 1200, want: append(append([]byte{}, content[:700]...), make([]byte, 500)...), wantClusters: 3},
				{name: "empty", size: 0, want: []byte{}, wantClusters: 0},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					require.NoError(t, f.Truncate(tt.size))
					require.NoError(t, f.Sync())

					got, err := afero.ReadFile(fs, "/file.bin")
					require.NoError(t, err)
					assert.Equal(t, tt.want, got)
					assert.Equal(t, free-tt.wantClusters, freeClusters(t, fs))
				})
			}

			assert.ErrorIs(t, f.Truncate(-1), syscall.EINVAL)
		})
	}
}

func TestFile_Sync(t *testing.T) {
	fs := testingFs(t, FAT16)

	f, err := fs.Create("/file.txt")
	require.NoError(t, err)
	_, err = f.WriteString("content")
	require.NoError(t, err)

	// The entry is written back on Sync or Close.
	info, err := fs.Stat("/file.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())

	require.NoError(t, f.Sync())
	info, err = fs.Stat("/file.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(7), info.Size())

	// The open file sees its own size immediately.
	_, err = f.WriteString("!")
	require.NoError(t, err)
	info, err = f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(8), info.Size())
	require.NoError(t, f.Close())
}

func TestFile_InvalidUse(t *testing.T) {
	fs := testingFs(t, FAT16)
	require.NoError(t, fs.Mkdir("/dir", 0777))
	writeTestFile(t, fs, "/file.txt", []byte("content"))

	readOnly, err := fs.Open("/file.txt")
	require.NoError(t, err)
	defer readOnly.Close()
	_, err = readOnly.Write([]byte("x"))
	assert.ErrorIs(t, err, syscall.EBADF)
	assert.ErrorIs(t, readOnly.Truncate(0), syscall.EBADF)
	_, err = readOnly.Readdir(-1)
	assert.ErrorIs(t, err, syscall.ENOTDIR)

	writeOnly, err := fs.OpenFile("/file.txt", os.O_WRONLY, 0)
	require.NoError(t, err)
	defer writeOnly.Close()
	_, err = writeOnly.Read(make([]byte, 4))
	assert.ErrorIs(t, err, syscall.EBADF)

	dir, err := fs.Open("/dir")
	require.NoError(t, err)
	defer dir.Close()
	_, err = dir.Read(make([]byte, 4))
	assert.ErrorIs(t, err, syscall.EISDIR)

	closed, err := fs.Open("/file.txt")
	require.NoError(t, err)
	require.NoError(t, closed.Close())
	assert.ErrorIs(t, closed.Close(), os.ErrClosed)
	_, err = closed.Read(make([]byte, 4))
	assert.ErrorIs(t, err, os.ErrClosed)
	_, err = closed.Stat()
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestFile_Readdir(t *testing.T) {
	for _, fatType := range fatTypes {
		t.Run(fatType.String(), func(t *testing.T) {
			fs := testingFs(t, fatType)
			require.NoError(t, fs.Mkdir("/dir", 0777))
			names := []string{"one.txt", "Second File.txt", "THREE", "four", "a directory"}
			for _, name := range names[:4] {
				writeTestFile(t, fs, "/dir/"+name, []byte(name))
			}
			require.NoError(t, fs.Mkdir("/dir/a directory", 0777))

			t.Run("all", func(t *testing.T) {
				f, err := fs.Open("/dir")
				require.NoError(t, err)
				defer f.Close()

				got, err := f.Readdirnames(0)
				require.NoError(t, err)
				assert.Equal(t, names, got, "entries are returned in creation order")

				infos, err := f.Readdir(-1)
				require.NoError(t, err)
				assert.NotNil(t, infos)
				assert.Empty(t, infos)
			})

			t.Run("in pieces", func(t *testing.T) {
				f, err := fs.Open("/dir")
				require.NoError(t, err)
				defer f.Close()

				var got []string
				for _, wantLen := range []int{2, 2, 1} {
					part, err := f.Readdirnames(2)
					require.NoError(t, err)
					assert.Len(t, part, wantLen)
					got = append(got, part...)
				}
				assert.Equal(t, names, got)

				part, err := f.Readdirnames(2)
				assert.Equal(t, io.EOF, err)
				assert.Empty(t, part)
			})

			t.Run("with deleted entries", func(t *testing.T) {
				require.NoError(t, fs.Remove("/dir/Second File.txt"))
				require.NoError(t, fs.Remove("/dir/four"))

				f, err := fs.Open("/dir")
				require.NoError(t, err)
				defer f.Close()

				infos, err := f.Readdir(-1)
				require.NoError(t, err)
				require.Len(t, infos, 3)
				assert.Equal(t, "one.txt", infos[0].Name())
				assert.Equal(t, "THREE", infos[1].Name())
				assert.Equal(t, "a directory", infos[2].Name())
				assert.True(t, infos[2].IsDir())
				assert.Equal(t, int64(5), infos[1].Size())
			})
		})
	}
}

func TestFile_removedWhileOpen(t *testing.T) {
	for _, fatType := range fatTypes {
		t.Run(fatType.String(), func(t *testing.T) {
			fs := testingFs(t, fatType)
			free := freeClusters(t, fs)

			f, err := fs.OpenFile("/a.txt", os.O_RDWR|os.O_CREATE, 0666)
			require.NoError(t, err)
			_, err = f.Write([]byte("hello"))
			require.NoError(t, err)

			require.NoError(t, fs.Remove("/a.txt"))
			assert.Equal(t, free, freeClusters(t, fs), "the written cluster is released with the entry")

			// The open file stays usable but is no longer part of the directory.
			_, err = f.Write(pattern(3000))
			require.NoError(t, err)
			require.NoError(t, f.Close())

			names, err := readDirNames(fs, "/")
			require.NoError(t, err)
			assert.Empty(t, names)

			_, err = fs.Stat("/a.txt")
			assert.True(t, os.IsNotExist(err))
			assert.Equal(t, free, freeClusters(t, fs), "nothing written after the removal is leaked")

			assert.ErrorIs(t, fs.Remove("/a.txt"), syscall.ENOENT)
		})
	}
}

func TestFile_renamedWhileOpen(t *testing.T) {
	for _, fatType := range fatTypes {
		t.Run(fatType.String(), func(t *testing.T) {
			fs := testingFs(t, fatType)
			free := freeClusters(t, fs)

			f, err := fs.Create("/tmp.txt")
			require.NoError(t, err)
			_, err = f.Write([]byte("hello"))
			require.NoError(t, err)

			require.NoError(t, fs.Rename("/tmp.txt", "/final.txt"))

			info, err := fs.Stat("/final.txt")
			require.NoError(t, err)
			assert.Equal(t, int64(5), info.Size())

			_, err = f.Write([]byte(" world"))
			require.NoError(t, err)
			require.NoError(t, f.Close())

			names, err := readDirNames(fs, "/")
			require.NoError(t, err)
			assert.Equal(t, []string{"final.txt"}, names)

			content, err := afero.ReadFile(fs, "/final.txt")
			require.NoError(t, err)
			assert.Equal(t, "hello world", string(content))
			assert.Equal(t, free-1, freeClusters(t, fs))
		})
	}
}

func TestFile_replacedWhileOpen(t *testing.T) {
	fs := testingFs(t, FAT16)
	free := freeClusters(t, fs)

	old, err := fs.Create("/dst.txt")
	require.NoError(t, err)
	_, err = old.Write([]byte("old content"))
	require.NoError(t, err)

	writeTestFile(t, fs, "/src.txt", []byte("new content"))
	require.NoError(t, fs.Rename("/src.txt", "/dst.txt"))

	_, err = old.Write(pattern(2000))
	require.NoError(t, err)
	require.NoError(t, old.Close())

	content, err := afero.ReadFile(fs, "/dst.txt")
	require.NoError(t, err)
	assert.Equal(t, "new content", string(content))

	names, err := readDirNames(fs, "/")
	require.NoError(t, err)
	assert.Equal(t, []string{"dst.txt"}, names)
	assert.Equal(t, free-1, freeClusters(t, fs))
}
