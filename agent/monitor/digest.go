package monitor

import (
	"context"
	"fmt"
	"strings"

	"printwatch/agent/schedule"
	"printwatch/common/settings"
	"printwatch/common/storage"

	"github.com/robfig/cron/v3"
)

// digestType labels the daily summary for the notification sink.
const digestType storage.AlertType = "digest"

// scheduleDigest (re)registers the digest job from the current settings.
func (m *Monitor) scheduleDigest(s settings.Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.digestEntry != 0 {
		m.cron.Remove(m.digestEntry)
		m.digestEntry = 0
	}
	digest := s.Notifications.Digest
	if !digest.Enabled {
		return
	}
	desc, err := schedule.DescriptorFromDigest(digest, s.Notifications.Schedule.Timezone)
	if err != nil {
		m.logWarn("Invalid digest schedule, digest disabled", err)
		return
	}
	ctx := m.ctx
	m.digestEntry = m.cron.Schedule(desc, cron.FuncJob(func() { m.SendDigest(ctx) }))
	if m.log != nil {
		m.log.Debug("Digest scheduled", "time", digest.Time, "days", strings.Join(digest.Days, ","))
	}
}

// SendDigest dispatches the fleet summary now.
func (m *Monitor) SendDigest(ctx context.Context) error {
	subject, message := m.digest()
	err := m.notifier.Dispatch(ctx, subject, message, digestType)
	if err != nil {
		m.logWarn("Digest notification failed", err)
	}
	return err
}

func (m *Monitor) digest() (subject, message string) {
	sum := m.AnalyticsSummary()
	subject = fmt.Sprintf("PrintWatch daily summary: %d/%d printers online", sum.Online, sum.Devices)

	var b strings.Builder
	fmt.Fprintf(&b, "Fleet summary generated %s\n\n", sum.GeneratedAt.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Printers: %d (online %d, offline %d, never polled %d)\n", sum.Devices, sum.Online, sum.Offline, sum.NeverPolled)
	fmt.Fprintf(&b, "Availability (24h): %.1f%%\n", sum.Availability)
	fmt.Fprintf(&b, "Pages printed today: %d\n", sum.PagesToday)
	fmt.Fprintf(&b, "Supplies low: %d, critical: %d\n", sum.LowSupplies, sum.CriticalSupplies)
	fmt.Fprintf(&b, "Devices reporting errors: %d\n", sum.DevicesWithErrors)
	fmt.Fprintf(&b, "Unacknowledged alerts: %d\n", sum.UnacknowledgedAlerts)

	var offline []string
	for _, d := range m.registry.All() {
		if !d.Online {
			offline = append(offline, fmt.Sprintf("  - %s (%s)", d.DisplayName(), d.Address))
		}
	}
	if len(offline) > 0 {
		b.WriteString("\nOffline printers:\n")
		b.WriteString(strings.Join(offline, "\n"))
		b.WriteString("\n")
	}
	return subject, b.String()
}
