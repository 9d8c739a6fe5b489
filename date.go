package fatfs

import (
	"time"
)

// ParseDate reads a 16 bit FAT date stamp:
//  Bits 0–4: Day of month, 1–31.
//  Bits 5–8: Month of year, 1–12.
//  Bits 9–15: Count of years from 1980, 0–127.
// It returns a time.Time which has always a time of 00:00:00 UTC.
//
// As day 0 and month 0 are invalid, time.Time{} is returned in that case
// so that time.Time.IsZero() can be used.
func ParseDate(input uint16) time.Time {
	dayOfMonth := input & 0x1F
	monthOfYear := input & 0x1E0 >> 5
	yearSince1980 := input & 0xFE00 >> 9

	if dayOfMonth == 0 || monthOfYear == 0 {
		return time.Time{}
	}

	return time.Date(1980+int(yearSince1980), time.Month(monthOfYear), int(dayOfMonth), 0, 0, 0, 0, time.UTC)
}

// ParseTime reads a 16 bit FAT time stamp with a granularity of 2 seconds:
//  Bits 0–4: 2-second count, 0–29.
//  Bits 5–10: Minutes, 0–59.
//  Bits 11–15: Hours, 0–23.
// It returns a time.Time on January 1, year 1.
// Out of range values are limited to 23:59:59.
func ParseTime(input uint16) time.Time {
	seconds := int(input&0x1F) * 2
	minutes := input & 0x7E0 >> 5
	hours := input & 0xF800 >> 11

	result := time.Date(1, 1, 1, int(hours), int(minutes), seconds, 0, time.UTC)

	if result.Day() > 1 {
		return time.Date(1, 1, 1, 23, 59, 59, 0, time.UTC)
	}

	return result
}

// parseDateTime combines a date and a time stamp. An invalid date results in time.Time{}.
func parseDateTime(date, clock uint16) time.Time {
	d := ParseDate(date)
	if d.IsZero() {
		return time.Time{}
	}

	c := ParseTime(clock)
	return time.Date(d.Year(), d.Month(), d.Day(), c.Hour(), c.Minute(), c.Second(), 0, time.UTC)
}

// epoch is the first moment a FAT time stamp can express.
var epoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// packDate is the inverse of ParseDate. Times before 1980 are stored as the epoch.
func packDate(t time.Time) uint16 {
	if t.Year() < 1980 {
		t = epoch
	}
	return uint16((t.Year()-1980)&0x7F)<<9 | uint16(t.Month()&0xF)<<5 | uint16(t.Day()&0x1F)
}

// packTime is the inverse of ParseTime, dropping odd seconds.
func packTime(t time.Time) uint16 {
	if t.Year() < 1980 {
		t = epoch
	}
	return uint16(t.Hour()&0x1F)<<11 | uint16(t.Minute()&0x3F)<<5 | uint16((t.Second()/2)&0x1F)
}
