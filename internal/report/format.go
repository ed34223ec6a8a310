package report

import (
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Romern/syncMyMoodle/internal/model"
)

const timeLayout = "2006-01-02 15:04:05 MST"

func formatBytes(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	return humanize.Bytes(uint64(n))
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}

func statusText(report *model.SyncReport) string {
	switch report.Status() {
	case model.StatusCanceled:
		return "Canceled (partial results)"
	case model.StatusFailed:
		return "Failed - " + report.ErrorMessage
	case model.StatusPartial:
		return "Completed with errors"
	default:
		return "Complete"
	}
}

// truncateString truncates a string to maxLen runes with ellipsis.
func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
