// Package version implements the packed game version identifier exchanged in
// the client handshake.
package version

import "fmt"

// GameVersion is the integer-packed (year, month, day, revision) identifier sent
// by clients. The packing is year*25000 + month*1800 + day*50 + revision.
type GameVersion int32

// ServerAuthorityFlag is the revision offset clients add to opt out of server
// authority. Flagged and unflagged versions are interchangeable for compatibility.
const ServerAuthorityFlag = 25

// New packs a version with revision 0.
func New(year, month, day int) GameVersion {
	return NewWithRevision(year, month, day, 0)
}

// NewWithRevision packs a full version.
func NewWithRevision(year, month, day, revision int) GameVersion {
	return GameVersion(int32(year*25000 + month*1800 + day*50 + revision))
}

// Parts unpacks the version.
func (v GameVersion) Parts() (year, month, day, revision int) {
	n := int(v)
	year = n / 25000
	n %= 25000
	month = n / 1800
	n %= 1800
	day = n / 50
	revision = n % 50
	return
}

// Revision returns the revision component.
func (v GameVersion) Revision() int {
	_, _, _, r := v.Parts()
	return r
}

// Normalize strips the server-authority flag from the revision. It is idempotent.
func (v GameVersion) Normalize() GameVersion {
	if r := v.Revision(); r >= ServerAuthorityFlag {
		return v - ServerAuthorityFlag
	}
	return v
}

// Compare returns -1, 0 or 1 ordering v against other by packed value.
func (v GameVersion) Compare(other GameVersion) int {
	switch {
	case v < other:
		return -1
	case v > other:
		return 1
	default:
		return 0
	}
}

// String returns "year.month.day" with ".revision" appended when non-zero.
func (v GameVersion) String() string {
	year, month, day, revision := v.Parts()
	if revision != 0 {
		return fmt.Sprintf("%d.%d.%d.%d", year, month, day, revision)
	}
	return fmt.Sprintf("%d.%d.%d", year, month, day)
}

// Parse reads "year.month.day[.revision]".
func Parse(s string) (GameVersion, error) {
	var year, month, day, revision int
	n, err := fmt.Sscanf(s, "%d.%d.%d.%d", &year, &month, &day, &revision)
	if n < 3 {
		if err == nil {
			err = fmt.Errorf("too few components")
		}
		return 0, fmt.Errorf("invalid game version %q: %w", s, err)
	}
	if month < 0 || month > 12 || day < 0 || day >= 36 || revision < 0 || revision >= 50 {
		return 0, fmt.Errorf("invalid game version %q: component out of range", s)
	}
	return NewWithRevision(year, month, day, revision), nil
}
