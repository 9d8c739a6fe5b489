// Package blockdev provides sector addressed storage for FAT volumes.
// All transfers are whole sectors of SectorSize bytes.
package blockdev

import (
	"errors"
	"fmt"

	"github.com/aligator/fatfs/checkpoint"
)

// SectorSize is the size of a single sector in bytes.
const SectorSize = 512

// These errors may occur while accessing a device.
var (
	ErrOutOfRange = errors.New("sector range is out of the device bounds")
	ErrUnaligned  = errors.New("buffer length is not a multiple of the sector size")
	ErrReadOnly   = errors.New("device is read-only")
	ErrClosed     = errors.New("device is closed")
)

// checkRange validates a transfer of len(buf) bytes starting at sector start
// on a device with the given number of sectors.
func checkRange(start uint32, buf []byte, sectors uint32) error {
	if len(buf)%SectorSize != 0 {
		return checkpoint.Wrap(fmt.Errorf("length %d", len(buf)), ErrUnaligned)
	}

	count := uint64(len(buf) / SectorSize)
	if uint64(start)+count > uint64(sectors) {
		return checkpoint.Wrap(fmt.Errorf("sectors %d+%d of %d", start, count, sectors), ErrOutOfRange)
	}
	return nil
}

// Memory is a device held completely in RAM.
type Memory struct {
	data     []byte
	readOnly bool
	closed   bool
}

// NewMemory creates a zeroed device with the given number of sectors.
func NewMemory(sectors uint32) *Memory {
	return &Memory{
		data: make([]byte, int(sectors)*SectorSize),
	}
}

// NewMemoryFrom uses data as device content. The slice is not copied.
func NewMemoryFrom(data []byte) (*Memory, error) {
	if len(data)%SectorSize != 0 {
		return nil, checkpoint.Wrap(fmt.Errorf("length %d", len(data)), ErrUnaligned)
	}
	return &Memory{data: data}, nil
}

// Bytes returns the raw device content.
func (m *Memory) Bytes() []byte {
	return m.data
}

// Sectors returns the device size in sectors.
func (m *Memory) Sectors() uint32 {
	return uint32(len(m.data) / SectorSize)
}

// SetReadOnly makes all following writes fail with ErrReadOnly.
func (m *Memory) SetReadOnly(readOnly bool) {
	m.readOnly = readOnly
}

func (m *Memory) ReadSectors(start uint32, dst []byte) error {
	if m.closed {
		return checkpoint.From(ErrClosed)
	}
	if err := checkRange(start, dst, m.Sectors()); err != nil {
		return err
	}

	copy(dst, m.data[int(start)*SectorSize:])
	return nil
}

func (m *Memory) WriteSectors(start uint32, src []byte) error {
	if m.closed {
		return checkpoint.From(ErrClosed)
	}
	if m.readOnly {
		return checkpoint.From(ErrReadOnly)
	}
	if err := checkRange(start, src, m.Sectors()); err != nil {
		return err
	}

	copy(m.data[int(start)*SectorSize:], src)
	return nil
}

func (m *Memory) Close() error {
	m.closed = true
	return nil
}
