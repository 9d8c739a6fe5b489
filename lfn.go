package fatfs

import (
	"encoding/binary"

	"github.com/aligator/fatfs/checkpoint"
	"golang.org/x/text/encoding/unicode"
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// lfnChecksum calculates the checksum stored in every long filename fragment
// which belongs to the given short name.
func lfnChecksum(short [11]byte) uint8 {
	var sum uint8
	for _, b := range short {
		sum = ((sum & 1) << 7) + (sum >> 1) + b
	}
	return sum
}

// lfnAccumulator collects the fragments of one long filename while a directory
// is scanned. Fragments are stored in descending ordinal, the one with the
// lfnLast flag first. Any fragment out of that order drops the collected name.
// The state lives as long as the scan, so a name may span sectors and clusters.
type lfnAccumulator struct {
	units    [lfnMaxOrdinal * lfnUnits]uint16
	count    uint8
	expect   uint8
	checksum uint8
	active   bool
}

func (a *lfnAccumulator) reset() {
	a.active = false
	a.count = 0
	a.expect = 0
}

func (a *lfnAccumulator) add(slot *lfnSlot) {
	ord := slot.Sequence & lfnOrdMask

	if slot.Sequence&lfnLast != 0 {
		if ord == 0 || ord > lfnMaxOrdinal {
			a.reset()
			return
		}
		a.active = true
		a.count = ord
		a.expect = ord
		a.checksum = slot.Checksum
	}

	if !a.active || ord != a.expect || slot.Checksum != a.checksum {
		a.reset()
		return
	}

	units := slot.units()
	copy(a.units[int(ord-1)*lfnUnits:], units[:])
	a.expect--
}

// finish closes the sequence with the short entry it belongs to.
// It returns the long name if a complete sequence was collected for exactly that
// short name. mismatch reports a complete sequence with a wrong checksum.
func (a *lfnAccumulator) finish(short [11]byte) (name string, mismatch bool) {
	defer a.reset()

	if !a.active || a.expect != 0 {
		return "", false
	}
	if lfnChecksum(short) != a.checksum {
		return "", true
	}

	return decodeUnits(a.units[:int(a.count)*lfnUnits]), false
}

// decodeUnits converts the UTF-16 code units of a long name into a string.
// The name ends at the first 0x0000, trailing 0xFFFF fill is dropped.
func decodeUnits(units []uint16) string {
	for i, u := range units {
		if u == 0x0000 {
			units = units[:i]
			break
		}
	}
	for len(units) > 0 && units[len(units)-1] == 0xFFFF {
		units = units[:len(units)-1]
	}

	raw := make([]byte, 2*len(units))
	for i, u := range units {
		binary.LittleEndian.PutUint16(raw[2*i:], u)
	}

	decoded, err := utf16le.NewDecoder().Bytes(raw)
	if err != nil {
		return ""
	}
	return string(decoded)
}

// encodeUnits converts a name into UTF-16 code units.
func encodeUnits(name string) ([]uint16, error) {
	raw, err := utf16le.NewEncoder().Bytes([]byte(name))
	if err != nil {
		return nil, checkpoint.Wrap(err, ErrInvalidName)
	}

	units := make([]uint16, len(raw)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(raw[2*i:])
	}
	return units, nil
}

// lfnFragments splits a long name into fragments in on-disk order,
// which is the highest ordinal (flagged with lfnLast) first.
func lfnFragments(units []uint16, checksum uint8) []lfnSlot {
	count := (len(units) + lfnUnits - 1) / lfnUnits

	padded := make([]uint16, count*lfnUnits)
	copy(padded, units)
	if len(units) < len(padded) {
		padded[len(units)] = 0x0000
		for i := len(units) + 1; i < len(padded); i++ {
			padded[i] = 0xFFFF
		}
	}

	fragments := make([]lfnSlot, 0, count)
	for ord := count; ord >= 1; ord-- {
		var part [lfnUnits]uint16
		copy(part[:], padded[(ord-1)*lfnUnits:])

		slot := lfnSlot{
			Sequence:  uint8(ord),
			Attribute: AttrLongName,
			Checksum:  checksum,
		}
		if ord == count {
			slot.Sequence |= lfnLast
		}
		slot.setUnits(part)
		fragments = append(fragments, slot)
	}
	return fragments
}
