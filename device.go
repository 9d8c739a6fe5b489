package fatfs

import (
	"github.com/aligator/fatfs/blockdev"
)

// SectorSize is the only sector size the engine works with.
const SectorSize = blockdev.SectorSize

// BlockDevice is the storage a filesystem gets mounted on.
// Transfers are whole sectors, so len of the buffers is always a multiple of SectorSize.
// Initialization is up to the constructor of the device, Close shuts it down.
//
// Generated mock using mockgen:
//  mockgen -source=device.go -destination=device_mock.go -package fatfs
type BlockDevice interface {
	ReadSectors(start uint32, dst []byte) error
	WriteSectors(start uint32, src []byte) error
	Close() error
}
