package parsers

import "time"

// Offset between the Windows epoch (1601-01-01) and the Unix epoch
// (1970-01-01) in seconds.
const windowsToUnixEpochSeconds = 11644473600

// FromFILETIME converts a Windows FILETIME value (100-ns intervals since
// 1601-01-01) to a UTC time. Zero values return the zero time.
func FromFILETIME(v uint64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	// 100-ns units -> microseconds, then shift epochs.
	us := int64(v/10) - windowsToUnixEpochSeconds*1_000_000
	return time.UnixMicro(us).UTC()
}

// FromWebKit converts a WebKit timestamp (microseconds since 1601-01-01) to
// a UTC time. Zero values return the zero time.
func FromWebKit(v uint64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	us := int64(v) - windowsToUnixEpochSeconds*1_000_000
	return time.UnixMicro(us).UTC()
}

// parseTimestamp tries the layouts evidence files commonly carry, returning
// a UTC time.
func parseTimestamp(s string) (time.Time, bool) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05.999999999",
		"02/Jan/2006:15:04:05 -0700",
		"Jan _2 15:04:05",
		"Jan _2 15:04:05 2006",
		time.UnixDate,
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			// Syslog-style layouts carry no year; assume the current one.
			if t.Year() == 0 {
				now := time.Now().UTC()
				t = t.AddDate(now.Year(), 0, 0)
				if t.After(now.AddDate(0, 0, 1)) {
					t = t.AddDate(-1, 0, 0)
				}
			}
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
