package progress

import (
	"fmt"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
)

const barLength = 20

// Bar renders a fixed-width text progress bar for fraction in [0,1].
func Bar(fraction float64) string {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	filled := int(barLength * fraction)
	return strings.Repeat("█", filled) + strings.Repeat("░", barLength-filled)
}

// Size formats a byte count for humans ("466.2MB").
func Size(bytes int64) string {
	if bytes <= 0 {
		return "0B"
	}
	return datasize.ByteSize(bytes).HumanReadable()
}

// Speed formats a transfer rate from bytes moved and elapsed time.
func Speed(bytes int64, elapsed time.Duration) string {
	if elapsed <= 0 {
		return "0 B/s"
	}
	bps := float64(bytes) / elapsed.Seconds()
	switch {
	case bps < 1024:
		return fmt.Sprintf("%.0f B/s", bps)
	case bps < 1024*1024:
		return fmt.Sprintf("%.1f KB/s", bps/1024)
	default:
		return fmt.Sprintf("%.2f MB/s", bps/(1024*1024))
	}
}

// ETA estimates remaining transfer time from progress so far. Too-early
// calls return "Calculating...".
func ETA(current, total int64, elapsed time.Duration) string {
	if current <= 0 || total <= 0 || elapsed < 200*time.Millisecond {
		return "Calculating..."
	}
	rate := float64(current) / elapsed.Seconds()
	if rate == 0 {
		return "Calculating..."
	}
	remainingBytes := total - current
	if remainingBytes <= 0 {
		return "0s"
	}
	remaining := float64(remainingBytes) / rate

	switch {
	case remaining < 60:
		return fmt.Sprintf("%ds", int(remaining))
	case remaining < 3600:
		return fmt.Sprintf("%dm %ds", int(remaining)/60, int(remaining)%60)
	default:
		return fmt.Sprintf("%dh %dm", int(remaining)/3600, (int(remaining)%3600)/60)
	}
}
