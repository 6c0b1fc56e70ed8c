package supplies

import (
	"regexp"
	"strings"
	"unicode"

	"printwatch/common/storage"
)

// LevelKind discriminates TrayLevel.
type LevelKind int

const (
	LevelUnknown LevelKind = iota
	LevelKnown
	LevelHasPaper
	LevelEmpty
)

// TrayLevel is the decoded prtInputCurrentLevel. The MIB overloads the
// integer with sentinels; TrayLevel keeps them out of arithmetic.
type TrayLevel struct {
	kind  LevelKind
	count int
}

// Known returns a level with a literal sheet count.
func Known(n int) TrayLevel { return TrayLevel{kind: LevelKnown, count: n} }

var (
	HasPaper     = TrayLevel{kind: LevelHasPaper}
	Empty        = TrayLevel{kind: LevelEmpty}
	UnknownLevel = TrayLevel{kind: LevelUnknown}
)

// Kind returns the variant.
func (l TrayLevel) Kind() LevelKind { return l.kind }

// Count returns the sheet count; ok is false unless the level is Known.
func (l TrayLevel) Count() (n int, ok bool) {
	if l.kind != LevelKnown {
		return 0, false
	}
	return l.count, true
}

// ParseTrayLevel decodes a raw level: positive counts are literal, -1 and
// -3 mean "some paper", 0 means empty, anything else is unknown.
func ParseTrayLevel(raw int) TrayLevel {
	switch {
	case raw > 0:
		return Known(raw)
	case raw == 0:
		return Empty
	case raw == -1 || raw == -3:
		return HasPaper
	default:
		return UnknownLevel
	}
}

// apply writes the level into a tray's nullable fields.
func (l TrayLevel) apply(t *storage.Tray) {
	t.CurrentLevel = nil
	t.CapacityStatus = nil
	switch l.kind {
	case LevelKnown:
		t.CurrentLevel = storage.IntPtr(l.count)
	case LevelHasPaper:
		cs := storage.CapacityHasPaper
		t.CapacityStatus = &cs
	case LevelEmpty:
		cs := storage.CapacityEmpty
		t.CapacityStatus = &cs
	}
}

var trayKeywords = []string{
	"tray", "drawer", "cassette", "bypass", "manual feed",
	"multi-purpose", "multipurpose", "mpt",
}

// IsTrayName reports whether name carries one of the tray keywords.
func IsTrayName(name string) bool {
	return containsAny(strings.ToLower(name), trayKeywords)
}

func hasControlChars(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}

var numericMedia = regexp.MustCompile(`^[+-]?\d+$`)

func normalizeMedia(s string) *string {
	clean := strings.TrimSpace(s)
	if clean == "" || numericMedia.MatchString(clean) {
		return nil
	}
	return &clean
}

// prtInputStatus is a PrtSubUnitStatusTC bit field (RFC 3805).
const (
	statusAvailabilityMask = 0x07
	statusNonCriticalAlert = 0x08
	statusCriticalAlert    = 0x10
	statusOffline          = 0x20
)

// ParseTrayStatus decodes prtInputStatus.
func ParseTrayStatus(raw string) storage.TrayStatus {
	v, err := parseInt(raw)
	if err != nil || v < 0 {
		return storage.TrayUnknown
	}
	switch {
	case v&statusOffline != 0:
		return storage.TrayOffline
	case v&statusCriticalAlert != 0:
		return storage.TrayError
	}
	switch v & statusAvailabilityMask {
	case 1, 3:
		return storage.TrayUnavailable
	case 5:
		return storage.TrayUnknown
	}
	if v&statusNonCriticalAlert != 0 {
		return storage.TrayWarning
	}
	return storage.TrayOK
}

// BuildTrays zips the prtInputTable columns (name, max capacity, current
// level, status, media name) into validated trays. Names must validate,
// be free of control characters and carry a tray keyword; duplicates by
// case-insensitive name keep the first row.
func BuildTrays(names, maxes, levels, statuses, media []string) []storage.Tray {
	out := []storage.Tray{}
	seen := map[string]bool{}
	for _, row := range ZipRows(names, maxes, levels, statuses, media) {
		raw := row[0]
		if hasControlChars(raw) {
			continue
		}
		name := strings.TrimSpace(raw)
		if !ValidName(name) || !IsTrayName(name) {
			continue
		}
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true

		tray := storage.Tray{
			Name:      name,
			Status:    ParseTrayStatus(row[3]),
			MediaName: normalizeMedia(row[4]),
		}
		if n, err := parseInt(row[1]); err == nil && n > 0 {
			tray.MaxCapacity = storage.IntPtr(n)
		}
		level := UnknownLevel
		if n, err := parseInt(row[2]); err == nil {
			level = ParseTrayLevel(n)
		}
		level.apply(&tray)
		out = append(out, tray)
	}
	return out
}
