package catalog

import (
	"strconv"
	"strings"
)

var unsafeChars = strings.NewReplacer(
	"/", "_", `\`, "_", ":", "_", "*", "_", "?", "_",
	`"`, "_", "<", "_", ">", "_", "|", "_",
)

// Sanitize makes s safe to use as a single path segment. Separators and
// characters invalid on common filesystems become "_". A result of "",
// "." or ".." is replaced by "_" so that no segment can leave its parent.
func Sanitize(s string) string {
	out := unsafeChars.Replace(s)
	switch out {
	case "", ".", "..":
		return "_"
	}
	return out
}

// CarName returns the directory name for a car: its path override when the
// service sends one, else its display name, else car_<id>.
func (c *Catalog) CarName(id uint32) string {
	if c != nil {
		if e, ok := c.Car(id); ok {
			if e.PathOverride != "" {
				return Sanitize(e.PathOverride)
			}
			if e.DisplayName != "" {
				return Sanitize(e.DisplayName)
			}
		}
	}
	return "car_" + strconv.FormatUint(uint64(id), 10)
}

// TrackName returns the directory name for a track: its display name, else
// track_<id>. Track path overrides are ignored.
func (c *Catalog) TrackName(id uint32) string {
	if c != nil {
		if e, ok := c.Track(id); ok && e.DisplayName != "" {
			return Sanitize(e.DisplayName)
		}
	}
	return "track_" + strconv.FormatUint(uint64(id), 10)
}
