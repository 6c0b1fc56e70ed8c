package oids

// This package centralizes the SNMP OIDs used by the poller. The constants
// mirror the Host Resources and Printer MIBs so callers can avoid scattering
// raw dotted strings. Only the printer-MIB subset needed for status, supplies,
// trays, page counts and alerts is covered.

const (
	// --- System group (RFC 1213) ---

	// SysDescr reports a human-readable system description string. It is the
	// anchor field used to decide reachability.
	SysDescr    = "1.3.6.1.2.1.1.1.0"
	SysObjectID = "1.3.6.1.2.1.1.2.0"
	SysContact  = "1.3.6.1.2.1.1.4.0"
	SysName     = "1.3.6.1.2.1.1.5.0"
	SysLocation = "1.3.6.1.2.1.1.6.0"
)

const (
	// --- Host Resources MIB (RFC 2790) ---

	// HrDeviceStatus.1: unknown(1) running(2) warning(3) testing(4) down(5).
	HrDeviceStatus  = "1.3.6.1.2.1.25.3.2.1.5.1"
	// HrPrinterStatus column: other(1) unknown(2) idle(3) printing(4) warmup(5).
	HrPrinterStatus = "1.3.6.1.2.1.25.3.5.1.1"
)

const (
	// --- Printer MIB (RFC 3805) ---

	PrtGeneralSerialNumber = "1.3.6.1.2.1.43.5.1.1.17.1"
	PrtMarkerLifeCount     = "1.3.6.1.2.1.43.10.2.1.4.1.1"

	// prtMarkerSuppliesTable columns (walked).
	PrtMarkerSuppliesDesc   = "1.3.6.1.2.1.43.11.1.1.6.1"
	PrtMarkerSuppliesMaxCap = "1.3.6.1.2.1.43.11.1.1.8.1"
	PrtMarkerSuppliesLevel  = "1.3.6.1.2.1.43.11.1.1.9.1"

	// prtInputTable columns (walked).
	PrtInputMaxCapacity  = "1.3.6.1.2.1.43.8.2.1.9.1"
	PrtInputCurrentLevel = "1.3.6.1.2.1.43.8.2.1.10.1"
	PrtInputStatus       = "1.3.6.1.2.1.43.8.2.1.11.1"
	PrtInputMediaName    = "1.3.6.1.2.1.43.8.2.1.12.1"
	PrtInputName         = "1.3.6.1.2.1.43.8.2.1.13.1"

	// prtAlertTable columns (walked).
	PrtAlertSeverityLevel = "1.3.6.1.2.1.43.18.1.1.2.1"
	PrtAlertDescription   = "1.3.6.1.2.1.43.18.1.1.8.1"
)

// SerialCandidates is the serial-number fallback chain, standard MIB first.
var SerialCandidates = []string{
	PrtGeneralSerialNumber,
	"1.3.6.1.4.1.11.2.3.9.4.2.1.1.3.3.0",   // HP
	"1.3.6.1.4.1.1347.43.5.1.1.28.1",       // Kyocera
	"1.3.6.1.4.1.253.8.53.3.2.1.3.1",       // Xerox
	"1.3.6.1.4.1.1602.1.2.1.4.0",           // Canon
	"1.3.6.1.4.1.2435.2.3.9.4.2.1.5.5.1.0", // Brother
}

// StatusCandidates probes hrPrinterStatus on the first hrDevice indexes;
// some multifunction devices register the printer as device 2 or 3.
var StatusCandidates = []string{
	HrPrinterStatus + ".1",
	HrPrinterStatus + ".2",
	HrPrinterStatus + ".3",
}

// PageCountCandidates is the lifetime page counter fallback chain.
var PageCountCandidates = []string{
	PrtMarkerLifeCount,
	"1.3.6.1.4.1.11.2.3.9.4.2.1.1.4.1.1",       // HP total pages
	"1.3.6.1.4.1.1347.43.10.1.1.12.1.1",        // Kyocera total printed
	"1.3.6.1.4.1.1602.1.11.1.3.1.4.101",        // Canon total counter
	"1.3.6.1.4.1.2435.2.3.9.4.2.1.5.5.52.31.0", // Brother page counter
}
