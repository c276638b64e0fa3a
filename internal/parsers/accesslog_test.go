package parsers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-soc/argus/internal/models"
)

func TestAccessLogParse(t *testing.T) {
	input := `192.0.2.44 - alice [15/Jan/2026:10:30:00 +0000] "GET /admin/login HTTP/1.1" 200 1832 "https://example.com/" "Mozilla/5.0"
198.51.100.7 - - [15/Jan/2026:10:30:05 +0000] "POST /wp-login.php HTTP/1.1" 403 212 "-" "curl/8.5"`

	events := parseAll(t, NewAccessLogParser(), input)
	require.Len(t, events, 2)

	first := events[0]
	assert.Equal(t, time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC), first.Timestamp.UTC())
	assert.Equal(t, "get", first.Action)
	assert.Equal(t, models.OutcomeSuccess, first.Outcome)
	assert.Equal(t, 5, first.Severity)
	require.NotNil(t, first.Network)
	assert.Equal(t, "192.0.2.44", first.Network.SrcIP)
	require.NotNil(t, first.URL)
	assert.Equal(t, "/admin/login", first.URL.Path)
	require.NotNil(t, first.User)
	assert.Equal(t, "alice", first.User.Name)
	assert.Equal(t, "200", first.Labels["http_status"])

	second := events[1]
	assert.Equal(t, models.OutcomeFailure, second.Outcome)
	assert.Equal(t, 35, second.Severity, "403 is scored above plain client errors")
	assert.Nil(t, second.User)
	assert.Equal(t, "curl/8.5", second.Raw["user_agent"])
}

func TestAccessLogServerError(t *testing.T) {
	input := `10.1.1.1 - - [15/Jan/2026:10:31:00 +0000] "GET /api/v1/items HTTP/1.1" 500 0 "-" "-"`
	events := parseAll(t, NewAccessLogParser(), input)
	require.Len(t, events, 1)
	assert.Equal(t, models.OutcomeFailure, events[0].Outcome)
	assert.Equal(t, 25, events[0].Severity)
}

func TestAccessLogMalformedLinesSkipped(t *testing.T) {
	input := "totally not an access log\n" +
		`10.1.1.1 - - [15/Jan/2026:10:31:00 +0000] "GET / HTTP/1.1" 200 7 "-" "-"` + "\n"
	events := parseAll(t, NewAccessLogParser(), input)
	require.Len(t, events, 1)
	assert.Equal(t, int64(2), events[0].Source.Line)
}

func TestAccessLogCanParse(t *testing.T) {
	p := NewAccessLogParser()
	assert.True(t, p.CanParse("", []byte(`1.2.3.4 - - [15/Jan/2026:10:30:00 +0000] "GET / HTTP/1.1" 200 7`)))
	assert.True(t, p.CanParse("/var/log/nginx/access.log", nil))
	assert.False(t, p.CanParse("/var/log/syslog", nil))
	assert.False(t, p.CanParse("", []byte("Jan 15 10:30:00 host sshd[1]: hi")))
}
