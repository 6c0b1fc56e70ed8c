package supplies

import (
	"strings"
	"time"

	"printwatch/common/storage"
)

// SeverityFromCode maps prtAlertSeverityLevel: critical(3), warning(4) and
// warningBinaryChangeEvent(5). Other codes are not reported.
func SeverityFromCode(code int) (storage.ErrorSeverity, bool) {
	switch code {
	case 3:
		return storage.SeverityCritical, true
	case 4, 5:
		return storage.SeverityWarning, true
	default:
		return "", false
	}
}

// BuildErrors zips the prtAlertTable severity and description columns.
func BuildErrors(severities, descriptions []string, now time.Time) []storage.DeviceError {
	out := []storage.DeviceError{}
	for _, row := range ZipRows(severities, descriptions) {
		code, err := parseInt(row[0])
		if err != nil {
			continue
		}
		sev, ok := SeverityFromCode(code)
		if !ok {
			continue
		}
		out = append(out, storage.DeviceError{
			Severity:    sev,
			Description: strings.TrimSpace(row[1]),
			Timestamp:   now,
		})
	}
	return out
}
