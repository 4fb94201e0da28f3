package reminder

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const displayTimeFormat = "Mon, 02 Jan 2006 15:04 (MST)"

// renderStage builds the notification body for one stage: title, target
// time in the event's display timezone, and recipient mentions. Returns
// the text and the JIDs to mention.
func renderStage(ev *Event, st Stage) (string, []string) {
	var b strings.Builder
	if st.Offset == 0 {
		fmt.Fprintf(&b, "🔔 *%s* — it's time!\n", ev.Title)
	} else {
		fmt.Fprintf(&b, "⏰ *%s* — in %s\n", ev.Title, humanOffset(st.Offset))
	}
	fmt.Fprintf(&b, "🗓 %s", displayTime(ev.TargetTime, ev.DisplayTimezone))
	if len(ev.Recipients) > 0 {
		b.WriteString("\n")
		b.WriteString(mentionLine(ev.Recipients))
	}
	return b.String(), ev.Recipients
}

// renderDigest builds the recurring snapshot for one group. Returns ""
// when there is nothing to announce (the trigger then skips sending).
func renderDigest(events []*Event, now time.Time) string {
	if len(events) == 0 {
		return ""
	}
	sorted := append([]*Event(nil), events...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TargetTime.Before(sorted[j].TargetTime) })

	var b strings.Builder
	b.WriteString("📋 Upcoming reminders:\n")
	for _, ev := range sorted {
		left := ev.TargetTime.Sub(now)
		if left < 0 {
			left = 0
		}
		fmt.Fprintf(&b, "• *%s* — %s (in %s)\n", ev.Title, displayTime(ev.TargetTime, ev.DisplayTimezone), humanOffset(left.Round(time.Minute)))
	}
	return strings.TrimRight(b.String(), "\n")
}

func displayTime(t time.Time, tz string) string {
	loc, err := time.LoadLocation(strings.TrimSpace(tz))
	if err != nil || tz == "" {
		loc = time.UTC
	}
	return t.In(loc).Format(displayTimeFormat)
}

// mentionLine renders "@user" tags. WhatsApp resolves the mention from the
// numeric user part of the JID; the message must still contain the tag text.
func mentionLine(jids []string) string {
	parts := make([]string, 0, len(jids))
	for _, j := range jids {
		user := j
		if i := strings.IndexByte(j, '@'); i >= 0 {
			user = j[:i]
		}
		parts = append(parts, "@"+user)
	}
	return strings.Join(parts, " ")
}

// humanOffset turns a duration into a short phrase ("24 hours", "1 hour
// 30 minutes", "now").
func humanOffset(d time.Duration) string {
	if d <= 0 {
		return "now"
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	var parts []string
	if h > 0 {
		parts = append(parts, plural(h, "hour"))
	}
	if m > 0 {
		parts = append(parts, plural(m, "minute"))
	}
	if len(parts) == 0 {
		parts = append(parts, plural(int(d.Seconds()), "second"))
	}
	return strings.Join(parts, " ")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
