package drive

import (
	"fmt"
	"time"
)

// ParseWireTime converts the drive's RFC3339 timestamp to unix epoch seconds.
func ParseWireTime(s string) (int64, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("drive: parse timestamp %q: %w", s, err)
	}
	return t.Unix(), nil
}

// FormatWireTime converts unix epoch seconds to the drive's RFC3339 format.
func FormatWireTime(epoch int64) string {
	return time.Unix(epoch, 0).UTC().Format(time.RFC3339)
}
