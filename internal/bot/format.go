package bot

import (
	"fmt"
	"strings"
	"time"

	"newsbot/internal/model"
	"newsbot/internal/scheduler"
)

const helpText = `Available commands:
/start - bind a channel or check access
/startposting - start posting
/stopposting - stop posting
/setinterval <time> - set the interval (34m, 1h, 2h 53m)
/nextpost - reset the timer and post now
/skiprss - skip the current RSS source
/changellm <model> - change the LLM model (for example gpt-4o-mini)
/editprompt <text> - change the summarization prompt
/sqlitebackup - send the SQLite database to this chat
/sqliteupdate - restore the SQLite database (reply with the file)
/info - show bot status
/errinf - show recent errors
/errnotification <on/off> - toggle error notifications
/feedcache - show the news cache
/feedcacheclear - clear the news cache
/addadmin <username> - add an admin
/removeadmin <username> - remove an admin
/debug - show the last raw LLM response
/help - this message`

// StatusInfo is everything /info reports.
type StatusInfo struct {
	Channel   string
	Creator   string
	Admins    []string
	Scheduler scheduler.Status
	CacheSize int
	Model     string
	Prompt    string
	Now       time.Time
}

// FormatStatus renders the /info reply.
func FormatStatus(s StatusInfo) string {
	state := "stopped"
	if s.Scheduler.Running {
		state = "running"
	}

	next := "not active"
	if s.Scheduler.Running && !s.Scheduler.NextRunAt.IsZero() {
		next = formatCountdown(s.Scheduler.NextRunAt.Sub(s.Now))
	}

	uptime := "not started"
	if !s.Scheduler.StartedAt.IsZero() {
		uptime = s.Now.Sub(s.Scheduler.StartedAt).Truncate(time.Second).String()
	}

	admins := make([]string, len(s.Admins))
	for i, a := range s.Admins {
		admins[i] = "@" + a
	}

	source := s.Scheduler.Source
	if source == "" {
		source = "none"
	}

	var b strings.Builder
	b.WriteString("Bot status:\n")
	fmt.Fprintf(&b, "Channel: %s\n", s.Channel)
	fmt.Fprintf(&b, "Creator: @%s\n", s.Creator)
	fmt.Fprintf(&b, "Admins: %s\n", strings.Join(admins, ", "))
	fmt.Fprintf(&b, "Posting: %s\n", state)
	fmt.Fprintf(&b, "Interval: %s\n", FormatInterval(s.Scheduler.Interval))
	fmt.Fprintf(&b, "Next post in: %s\n", next)
	fmt.Fprintf(&b, "Current RSS: %s\n", source)
	fmt.Fprintf(&b, "RSS sources: %d\n", s.Scheduler.SourceCount)
	fmt.Fprintf(&b, "Posts published: %d\n", s.Scheduler.Posts)
	fmt.Fprintf(&b, "Duplicates skipped: %d\n", s.Scheduler.Duplicates)
	fmt.Fprintf(&b, "Errors: %d\n", s.Scheduler.Errors)
	fmt.Fprintf(&b, "Cache size: %d entries\n", s.CacheSize)
	fmt.Fprintf(&b, "Uptime: %s\n", uptime)
	fmt.Fprintf(&b, "Model: %s\n", s.Model)
	fmt.Fprintf(&b, "Prompt:\n%s", s.Prompt)
	return b.String()
}

// FormatInterval renders d as "2h 30m" or "40m".
func FormatInterval(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

func formatCountdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d.Seconds())
	return fmt.Sprintf("%d min %d sec", secs/60, secs%60)
}

// FormatErrors renders the /errinf reply, newest first.
func FormatErrors(records []model.ErrorRecord) string {
	if len(records) == 0 {
		return "No errors yet."
	}
	var b strings.Builder
	b.WriteString("Recent errors:")
	for _, r := range records {
		fmt.Fprintf(&b, "\n%s - %s (link: %s)", r.CreatedAt.UTC().Format(time.RFC3339), r.Message, r.Link)
	}
	return b.String()
}

// FormatDebug renders the last raw model response.
func FormatDebug(r model.LLMResponse) string {
	return fmt.Sprintf("Last raw LLM response:\n\nLink: %s\nTime: %s\n\n%s",
		r.Link, r.ReceivedAt.UTC().Format(time.RFC3339), r.Raw)
}
