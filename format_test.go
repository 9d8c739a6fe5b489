package fatfs

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/aligator/fatfs/blockdev"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_planLayout(t *testing.T) {
	tests := []struct {
		name    string
		sectors uint32
		opts    FormatOptions
		want    layout
		wantErr error
	}{
		{
			name:    "tiny FAT16",
			sectors: 100,
			want: layout{
				fatType:           FAT16,
				sectorsPerCluster: 1,
				reserved:          1,
				fatSize:           1,
				rootEntries:       512,
				clusters:          65,
			},
		},
		{
			name:    "too small",
			sectors: 30,
			wantErr: ErrNoSpace,
		},
		{
			name:    "test image",
			sectors: 8192,
			want: layout{
				fatType:           FAT16,
				sectorsPerCluster: 1,
				reserved:          1,
				fatSize:           33,
				rootEntries:       512,
				clusters:          8093,
			},
		},
		{
			name:    "larger clusters keep FAT16",
			sectors: 0x20000,
			want: layout{
				fatType:           FAT16,
				sectorsPerCluster: 4,
				reserved:          1,
				fatSize:           129,
				rootEntries:       512,
				clusters:          32695,
			},
		},
		{
			name:    "2 GiB selects FAT32",
			sectors: 4194304,
			want: layout{
				fatType:           FAT32,
				sectorsPerCluster: 8,
				reserved:          32,
				fatSize:           4097,
				clusters:          523259,
			},
		},
		{
			name:    "FAT32 test image",
			sectors: 16384,
			opts:    FormatOptions{Type: FAT32, SectorsPerCluster: 1},
			want: layout{
				fatType:           FAT32,
				sectorsPerCluster: 1,
				reserved:          32,
				fatSize:           129,
				clusters:          16094,
			},
		},
		{
			name:    "root entries are rounded to whole sectors",
			sectors: 8192,
			opts:    FormatOptions{RootEntries: 20},
			want: layout{
				fatType:           FAT16,
				sectorsPerCluster: 1,
				reserved:          1,
				fatSize:           33,
				rootEntries:       32,
				clusters:          8123,
			},
		},
		{
			name:    "sectors per cluster no power of two",
			sectors: 8192,
			opts:    FormatOptions{SectorsPerCluster: 3},
			wantErr: ErrUnsupported,
		},
		{
			name:    "too many clusters for FAT16",
			sectors: 4194304,
			opts:    FormatOptions{Type: FAT16, SectorsPerCluster: 1},
			wantErr: ErrUnsupported,
		},
		{
			name:    "unknown type",
			sectors: 8192,
			opts:    FormatOptions{Type: FATType(12)},
			wantErr: ErrUnsupported,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := planLayout(tt.sectors, tt.opts)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("planLayout() error = %v, wantErr %v", err, tt.wantErr)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormat(t *testing.T) {
	t.Run("FAT32 reserved sectors", func(t *testing.T) {
		dev := testingFormat(t, FAT32, "")
		raw := dev.Bytes()
		sector := func(i int) []byte {
			return raw[i*SectorSize : (i+1)*SectorSize]
		}

		assert.Equal(t, []byte{0x55, 0xAA}, sector(0)[510:512])
		assert.Equal(t, sector(0), sector(6), "backup boot sector")

		info := sector(1)
		assert.Equal(t, uint32(fsInfoLeadSignature), binary.LittleEndian.Uint32(info[0:]))
		assert.Equal(t, uint32(fsInfoStructSignature), binary.LittleEndian.Uint32(info[484:]))
		assert.Equal(t, uint32(fsInfoTrailSignature), binary.LittleEndian.Uint32(info[508:]))
		assert.Equal(t, info, sector(7))

		// Both FATs terminate the root directory chain.
		for _, fatStart := range []int{32, 32 + 129} {
			fat := sector(fatStart)
			assert.Equal(t, uint32(0x0FFFFFF8), binary.LittleEndian.Uint32(fat[0:]))
			assert.Equal(t, uint32(fat32Marker), binary.LittleEndian.Uint32(fat[8:]))
		}
	})

	t.Run("FAT16 boot sector", func(t *testing.T) {
		dev := testingFormat(t, FAT16, "Data")
		boot, err := readBootSector(dev)
		require.NoError(t, err)

		assert.Equal(t, [3]byte{0xEB, 0x3C, 0x90}, boot.BSJumpBoot)
		assert.Equal(t, uint16(8192), boot.TotalSectors16)
		assert.Equal(t, uint32(0), boot.TotalSectors32)
		assert.Equal(t, uint16(512), boot.RootEntryCount)

		ext := boot.fat16()
		assert.Equal(t, uint32(0x1234ABCD), ext.BSVolumeID)
		assert.Equal(t, "DATA", boot.label())
		assert.Equal(t, "FAT16   ", string(ext.BSFileSystemType[:]))

		fat := dev.Bytes()[SectorSize : 2*SectorSize]
		assert.Equal(t, uint16(0xFFF8), binary.LittleEndian.Uint16(fat[0:]))
		assert.Equal(t, uint16(fat16Marker), binary.LittleEndian.Uint16(fat[2:]))
	})

	t.Run("existing content is cleared", func(t *testing.T) {
		dev := testingFormat(t, FAT16, "")
		fs := testingNew(t, dev, Config{})
		writeTestFile(t, fs, "/file.txt", pattern(2000))
		require.NoError(t, fs.Close())

		reopened, err := blockdev.NewMemoryFrom(dev.Bytes())
		require.NoError(t, err)
		require.NoError(t, Format(reopened, reopened.Sectors(), FormatOptions{SectorsPerCluster: 1}))

		fs = testingNew(t, reopened, Config{})
		infos, err := afero.ReadDir(fs, "/")
		require.NoError(t, err)
		assert.Empty(t, infos)
		assert.Equal(t, uint32(fat16Clusters), freeClusters(t, fs))
	})

	t.Run("too small device", func(t *testing.T) {
		dev := blockdev.NewMemory(30)
		err := Format(dev, 30, FormatOptions{})
		assert.ErrorIs(t, err, ErrFormat)
		assert.ErrorIs(t, err, ErrNoSpace)
	})
}

func Test_packLabel(t *testing.T) {
	tests := []struct {
		label string
		want  string
	}{
		{label: "data", want: "DATA       "},
		{label: "My Volume", want: "MY VOLUME  "},
		{label: "much too long label", want: "MUCH TOO LO"},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got := packLabel(tt.label)
			assert.Equal(t, tt.want, string(got[:]))
		})
	}
}
