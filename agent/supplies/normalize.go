// Package supplies turns raw printer-MIB table columns into validated
// supplies, trays and device errors. Rows that fail validation are dropped.
package supplies

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"printwatch/common/storage"
)

// ValidName reports whether a supply or tray name is usable: at least
// three characters after trimming and not made of digits only.
func ValidName(name string) bool {
	clean := strings.TrimSpace(name)
	if utf8.RuneCountInString(clean) < 3 {
		return false
	}
	for _, r := range clean {
		if !unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// ClassifySupply maps a description to a supply type by case-insensitive
// substring match, first group wins. SupplyOther means "not a consumable we
// track" and callers drop such rows.
func ClassifySupply(name string) storage.SupplyType {
	lower := strings.ToLower(name)
	switch {
	case containsAny(lower, []string{"toner", "ink", "cartridge"}):
		if strings.Contains(lower, "waste") {
			return storage.SupplyWaste
		}
		return storage.SupplyToner
	case strings.Contains(lower, "drum"):
		return storage.SupplyDrum
	case containsAny(lower, []string{"fuser", "fixing"}):
		return storage.SupplyFuser
	case containsAny(lower, []string{"belt", "transfer"}):
		return storage.SupplyTransfer
	case containsAny(lower, []string{"maintenance", "kit"}):
		return storage.SupplyMaintenance
	default:
		return storage.SupplyOther
	}
}

// BuildSupplies zips the description, max-capacity and level columns of
// prtMarkerSuppliesTable and keeps the rows that validate and classify.
func BuildSupplies(descs, maxes, levels []string) []storage.Supply {
	out := []storage.Supply{}
	for _, row := range ZipRows(descs, maxes, levels) {
		name := strings.TrimSpace(row[0])
		if !ValidName(name) {
			continue
		}
		maxCap, err := parseInt(row[1])
		if err != nil || maxCap <= 0 {
			continue
		}
		level, err := parseInt(row[2])
		if err != nil {
			continue
		}
		typ := ClassifySupply(name)
		if typ == storage.SupplyOther {
			continue
		}
		out = append(out, storage.Supply{
			Name:         name,
			CurrentLevel: level,
			MaxCapacity:  maxCap,
			Type:         typ,
		})
	}
	return out
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}

func containsAny(haystack string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}
