package settings

const SchemaVersion = "v1"

// DefaultPrinterKeywords qualify a sysDescr as a printer during discovery.
var DefaultPrinterKeywords = []string{
	"printer", "laserjet", "officejet", "deskjet", "designjet", "mfp",
	"hp ", "hewlett", "canon", "epson", "brother", "xerox", "lexmark",
	"kyocera", "ricoh", "samsung", "sharp", "konica", "minolta", "bizhub",
	"oki", "toshiba", "e-studio", "develop", "savin", "lanier",
}

// DefaultSettings returns the canonical defaults used when no persisted settings exist.
func DefaultSettings() Settings {
	return Settings{
		Polling: PollingSettings{
			IntervalSeconds: 60,
			Concurrency:     4,
		},
		Discovery: DiscoverySettings{
			BatchSize:         10,
			ProbeTimeoutMS:    1500,
			PrinterKeywords:   append([]string(nil), DefaultPrinterKeywords...),
			MDNSEnabled:       false,
			MDNSBrowseSeconds: 3,
		},
		SNMP: SNMPSettings{
			Version:            "2c",
			Community:          "public",
			TimeoutMS:          2000,
			Retries:            1,
			SlowDeviceKeywords: []string{"designjet", "plotter"},
			SlowTimeoutMS:      6000,
			SlowRetries:        3,
		},
		History: HistorySettings{
			MaxSnapshots:    1440,
			IntervalSeconds: 0,
			RetentionDays:   30,
		},
		Alerts: AlertSettings{
			LowThreshold:      20,
			CriticalThreshold: 10,
			OfflineMinutes:    5,
			CooldownHours:     4,
			MaxEvents:         1000,
		},
		Notifications: NotificationSettings{
			Schedule: ScheduleSettings{
				Mode:      ScheduleAlways,
				Days:      []string{"mon", "tue", "wed", "thu", "fri"},
				StartTime: "08:00",
				EndTime:   "18:00",
			},
			Email: EmailSettings{
				SMTPPort: 587,
			},
			Digest: DigestSettings{
				Enabled: false,
				Days:    []string{"mon", "tue", "wed", "thu", "fri"},
				Time:    "07:30",
			},
			RatePerMinute: 30,
		},
	}
}
