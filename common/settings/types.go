package settings

// Settings captures the runtime-tunable configuration of the monitor. It is
// loaded from the [settings] tables of the agent config and may be replaced
// at runtime through Store.Update; the next poll/evaluation cycle observes
// the new values.
type Settings struct {
	Polling       PollingSettings      `json:"polling" toml:"polling"`
	Discovery     DiscoverySettings    `json:"discovery" toml:"discovery"`
	SNMP          SNMPSettings         `json:"snmp" toml:"snmp"`
	History       HistorySettings      `json:"history" toml:"history"`
	Alerts        AlertSettings        `json:"alerts" toml:"alerts"`
	Notifications NotificationSettings `json:"notifications" toml:"notifications"`
}

// PollingSettings control the periodic fleet poll.
type PollingSettings struct {
	IntervalSeconds int `json:"interval_seconds" toml:"interval_seconds"`
	// Concurrency bounds how many devices are polled at once within a cycle.
	Concurrency int `json:"concurrency" toml:"concurrency"`
}

// DiscoverySettings control subnet scans.
type DiscoverySettings struct {
	BatchSize      int `json:"batch_size" toml:"batch_size"`
	ProbeTimeoutMS int `json:"probe_timeout_ms" toml:"probe_timeout_ms"`
	// PrinterKeywords qualify a sysDescr as a printer (case-insensitive substring).
	PrinterKeywords   []string `json:"printer_keywords" toml:"printer_keywords"`
	MDNSEnabled       bool     `json:"mdns_enabled" toml:"mdns_enabled"`
	MDNSBrowseSeconds int      `json:"mdns_browse_seconds" toml:"mdns_browse_seconds"`
}

// SNMPSettings configure SNMP queries.
type SNMPSettings struct {
	// Version specifies the SNMP protocol version: "1" or "2c"
	Version   string `json:"version" toml:"version"`
	Community string `json:"community" toml:"community"`
	TimeoutMS int    `json:"timeout_ms" toml:"timeout_ms"`
	Retries   int    `json:"retries" toml:"retries"`
	// Devices whose sysDescr contains one of these keywords get the slow budget.
	SlowDeviceKeywords []string `json:"slow_device_keywords" toml:"slow_device_keywords"`
	SlowTimeoutMS      int      `json:"slow_timeout_ms" toml:"slow_timeout_ms"`
	SlowRetries        int      `json:"slow_retries" toml:"slow_retries"`
}

// HistorySettings control the rolling history buffer.
type HistorySettings struct {
	MaxSnapshots int `json:"max_snapshots" toml:"max_snapshots"`
	// IntervalSeconds > 0 samples on an independent timer; 0 samples after each poll cycle.
	IntervalSeconds int `json:"interval_seconds" toml:"interval_seconds"`
	RetentionDays   int `json:"retention_days" toml:"retention_days"`
}

// AlertSettings are the thresholds evaluated after each poll cycle.
type AlertSettings struct {
	LowThreshold      int     `json:"low_threshold" toml:"low_threshold"`
	CriticalThreshold int     `json:"critical_threshold" toml:"critical_threshold"`
	OfflineMinutes    int     `json:"offline_minutes" toml:"offline_minutes"`
	CooldownHours     float64 `json:"cooldown_hours" toml:"cooldown_hours"`
	// MaxEvents bounds the in-memory alert log; oldest events are dropped.
	MaxEvents int `json:"max_events" toml:"max_events"`
}

// Schedule modes for notification dispatch.
const (
	ScheduleAlways        = "always"
	ScheduleBusinessHours = "business-hours"
	ScheduleScheduled     = "scheduled"
)

// ScheduleSettings gate when notifications are dispatched.
type ScheduleSettings struct {
	Mode      string   `json:"mode" toml:"mode"`
	Days      []string `json:"days" toml:"days"`
	StartTime string   `json:"start_time" toml:"start_time"`
	EndTime   string   `json:"end_time" toml:"end_time"`
	Timezone  string   `json:"timezone" toml:"timezone"`
}

// EmailSettings configure SMTP delivery.
type EmailSettings struct {
	Enabled  bool     `json:"enabled" toml:"enabled"`
	SMTPHost string   `json:"smtp_host" toml:"smtp_host"`
	SMTPPort int      `json:"smtp_port" toml:"smtp_port"`
	Username string   `json:"username" toml:"username"`
	Password string   `json:"-" toml:"password"`
	From     string   `json:"from" toml:"from"`
	To       []string `json:"to" toml:"to"`
}

// WebhookSettings configure JSON webhook delivery.
type WebhookSettings struct {
	Enabled bool              `json:"enabled" toml:"enabled"`
	URL     string            `json:"url" toml:"url"`
	Headers map[string]string `json:"headers,omitempty" toml:"headers"`
}

// DigestSettings configure the scheduled fleet summary notification.
type DigestSettings struct {
	Enabled bool     `json:"enabled" toml:"enabled"`
	Days    []string `json:"days" toml:"days"`
	Time    string   `json:"time" toml:"time"`
}

// NotificationSettings configure the notification sink.
type NotificationSettings struct {
	Schedule      ScheduleSettings `json:"schedule" toml:"schedule"`
	Email         EmailSettings    `json:"email" toml:"email"`
	Webhook       WebhookSettings  `json:"webhook" toml:"webhook"`
	Digest        DigestSettings   `json:"digest" toml:"digest"`
	RatePerMinute int              `json:"rate_per_minute" toml:"rate_per_minute"`
}
