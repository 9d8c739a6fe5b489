package fatfs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/aligator/fatfs/checkpoint"
	"github.com/elliotwutingfeng/asciiset"
	"golang.org/x/text/encoding/charmap"
)

// maxNameTail is the highest ~N tail tried before giving up.
const maxNameTail = 99999

var (
	validShortChars, _  = asciiset.MakeASCIISet("!#$%&'()-0123456789@ABCDEFGHIJKLMNOPQRSTUVWXYZ^_`{}~")
	invalidLongChars, _ = asciiset.MakeASCIISet("\\/?:*\"<>|")
)

// shortName is a generated 8.3 name.
type shortName struct {
	name      [11]byte
	caseFlags uint8
	// needLong is set if the short name cannot represent the full name.
	needLong bool
}

// validateName checks a single path segment which is about to be created.
func validateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return checkpoint.Wrap(fmt.Errorf("name %q", name), ErrInvalidName)
	}
	if strings.Trim(name, " .") == "" {
		return checkpoint.Wrap(fmt.Errorf("name %q has no visible characters", name), ErrInvalidName)
	}

	for _, r := range name {
		if r < 0x20 || r == 0x7F || (r < 0x80 && invalidLongChars.Contains(byte(r))) {
			return checkpoint.Wrap(fmt.Errorf("name %q contains %q", name, r), ErrInvalidName)
		}
	}

	units, err := encodeUnits(name)
	if err != nil {
		return err
	}
	if len(units) > lfnMaxUnits {
		return checkpoint.Wrap(fmt.Errorf("name has %d characters", len(units)), ErrInvalidName)
	}
	return nil
}

// toOEM converts one path segment part to upper case code page 437 bytes.
// Characters without a valid short name representation become '_' and mark the result as lossy.
func toOEM(part string) (out []byte, lossy bool) {
	for _, r := range part {
		r = unicode.ToUpper(r)
		if r < 0x80 {
			if validShortChars.Contains(byte(r)) {
				out = append(out, byte(r))
				continue
			}
		} else if b, ok := charmap.CodePage437.EncodeRune(r); ok {
			out = append(out, b)
			continue
		}

		out = append(out, '_')
		lossy = true
	}
	return out, lossy
}

// caseOf reports whether part contains lower and upper case letters.
func caseOf(part string) (lower, upper bool) {
	for _, r := range part {
		lower = lower || unicode.IsLower(r)
		upper = upper || unicode.IsUpper(r)
	}
	return lower, upper
}

// deriveShortName splits name into the upper case base and extension of a short
// name without any numeric tail.
func deriveShortName(name string) (base, ext []byte, caseFlags uint8, needLong bool) {
	stripped := strings.TrimLeft(strings.ReplaceAll(name, " ", ""), ".")
	needLong = stripped != name

	baseStr, extStr := stripped, ""
	if i := strings.LastIndex(stripped, "."); i >= 0 {
		baseStr, extStr = stripped[:i], stripped[i+1:]
	}
	if strings.Contains(baseStr, ".") {
		baseStr = strings.ReplaceAll(baseStr, ".", "")
		needLong = true
	}

	baseLower, baseUpper := caseOf(baseStr)
	extLower, extUpper := caseOf(extStr)
	if (baseLower && baseUpper) || (extLower && extUpper) {
		needLong = true
	}

	base, baseLossy := toOEM(baseStr)
	ext, extLossy := toOEM(extStr)
	if baseLossy || extLossy || len(base) > 8 || len(ext) > 3 {
		needLong = true
	}
	if len(base) == 0 {
		base = []byte{'_'}
		needLong = true
	}

	if !needLong {
		if baseLower {
			caseFlags |= caseLowerBase
		}
		if extLower {
			caseFlags |= caseLowerExt
		}
	}
	return base, ext, caseFlags, needLong
}

// packShortName builds the fixed 11 byte form. base and ext are cut to 8 and 3 bytes.
func packShortName(base, ext []byte) [11]byte {
	var name [11]byte
	for i := range name {
		name[i] = ' '
	}
	if len(base) > 8 {
		base = base[:8]
	}
	if len(ext) > 3 {
		ext = ext[:3]
	}
	copy(name[0:8], base)
	copy(name[8:11], ext)

	if name[0] == slotDeleted {
		name[0] = slotKanji
	}
	return name
}

// generateShortName derives a unique short name for name.
// If a long name is needed, a ~N tail is added to the base and exists is
// asked for every candidate until a free one is found.
func generateShortName(name string, exists func(candidate string) (bool, error)) (shortName, error) {
	base, ext, caseFlags, needLong := deriveShortName(name)
	if !needLong {
		return shortName{name: packShortName(base, ext), caseFlags: caseFlags}, nil
	}

	for n := 1; n <= maxNameTail; n++ {
		tail := "~" + strconv.Itoa(n)
		keep := 8 - len(tail)
		b := base
		if len(b) > keep {
			b = b[:keep]
		}

		candidate := packShortName(append(append([]byte{}, b...), tail...), ext)
		found, err := exists(formatShortName(candidate, 0))
		if err != nil {
			return shortName{}, err
		}
		if !found {
			return shortName{name: candidate, needLong: true}, nil
		}
	}

	return shortName{}, checkpoint.Wrap(fmt.Errorf("no short name left for %q", name), ErrTooManyNameCollisions)
}

// shortNameIn generates a short name which is unique inside the directory dir.
func (fs *Fs) shortNameIn(dir *Entry, name string) (shortName, error) {
	return generateShortName(name, func(candidate string) (bool, error) {
		_, err := fs.lookupIn(dir, candidate)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	})
}
