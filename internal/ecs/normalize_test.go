package ecs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-soc/argus/internal/models"
)

func sampleEvent() *models.ParsedEvent {
	return &models.ParsedEvent{
		Timestamp: time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC),
		Message:   "Successful logon for CORP\\jsmith",
		Source:    models.EventSource{Type: "evtx", File: "security.xml", Line: 12},
		Kind:      models.KindEvent,
		Categories: []models.EventCategory{
			models.CategoryAuthentication,
		},
		Types:    []string{"start"},
		Action:   "user_logon",
		Outcome:  models.OutcomeSuccess,
		Severity: 20,
		Host:     &models.HostInfo{Name: "WORK-01", IPs: []string{"192.168.1.100"}, OSName: "Windows"},
		User:     &models.UserInfo{Name: "jsmith", Domain: "CORP"},
		Network:  &models.NetworkInfo{SrcIP: "192.168.1.100", SrcPort: 52811, Direction: "inbound"},
		Labels:   map[string]string{"event_id": "4624"},
	}
}

func TestNormalizeNestedSections(t *testing.T) {
	doc, warnings := Normalize(sampleEvent())
	assert.Empty(t, warnings)

	assert.Equal(t, "2026-01-15T10:30:00Z", doc["@timestamp"])

	event := doc["event"].(map[string]interface{})
	assert.Equal(t, []string{"authentication"}, event["category"])
	assert.Equal(t, "user_logon", event["action"])
	assert.Equal(t, "success", event["outcome"])
	assert.Equal(t, 20, event["severity"])
	assert.Equal(t, "evtx", event["module"])

	user := doc["user"].(map[string]interface{})
	assert.Equal(t, "jsmith", user["name"])
	assert.Equal(t, "CORP", user["domain"])

	src := doc["source"].(map[string]interface{})
	assert.Equal(t, "192.168.1.100", src["ip"])
	assert.Equal(t, 52811, src["port"])

	logSection := doc["log"].(map[string]interface{})
	assert.Equal(t, "security.xml", logSection["file.path"])

	ecsSection := doc["ecs"].(map[string]interface{})
	assert.Equal(t, Version, ecsSection["version"])
}

func TestNormalizeWarnings(t *testing.T) {
	ev := &models.ParsedEvent{
		Source: models.EventSource{Type: "jsonl", File: "x.jsonl", Line: 1},
		Host:   &models.HostInfo{Name: "h", IPs: []string{"999.1.1.1", "10.0.0.1"}},
	}
	doc, warnings := Normalize(ev)

	assert.Contains(t, warnings, "missing @timestamp")
	assert.Contains(t, warnings, "missing event.category")
	assert.Contains(t, warnings, "discarded invalid host ip: 999.1.1.1")

	host := doc["host"].(map[string]interface{})
	assert.Equal(t, []string{"10.0.0.1"}, host["ip"], "only the valid ip survives")
	_, hasTS := doc["@timestamp"]
	assert.False(t, hasTS)
}

func TestNormalizeProcessArgs(t *testing.T) {
	ev := &models.ParsedEvent{
		Timestamp:  time.Now(),
		Categories: []models.EventCategory{models.CategoryProcess},
		Process: &models.ProcessInfo{
			Name:        "bash",
			PID:         42,
			PPID:        1,
			CommandLine: `bash -c 'echo hi'`,
		},
	}
	doc, _ := Normalize(ev)
	proc := doc["process"].(map[string]interface{})
	assert.Equal(t, int64(42), proc["pid"])
	assert.Equal(t, map[string]interface{}{"pid": int64(1)}, proc["parent"])
	assert.Equal(t, []string{"bash", "-c", "echo hi"}, proc["args"])
}

func TestNormalizeURLDerivesComponents(t *testing.T) {
	ev := &models.ParsedEvent{
		Timestamp:  time.Now(),
		Categories: []models.EventCategory{models.CategoryWeb},
		URL:        &models.URLInfo{Full: "https://evil.example.com:8443/path/x?y=1"},
	}
	doc, _ := Normalize(ev)
	u := doc["url"].(map[string]interface{})
	assert.Equal(t, "https", u["scheme"])
	assert.Equal(t, "evil.example.com", u["domain"])
	assert.Equal(t, 8443, u["port"])
	assert.Equal(t, "/path/x", u["path"])
	assert.Equal(t, "y=1", u["query"])
}

func TestDocumentIDDeterministic(t *testing.T) {
	a := sampleEvent()
	b := sampleEvent()
	require.Equal(t, DocumentID(a), DocumentID(b))
	assert.Len(t, DocumentID(a), 20)

	b.Source.Line = 13
	assert.NotEqual(t, DocumentID(a), DocumentID(b))
}

func TestNormalizeIP(t *testing.T) {
	assert.Equal(t, "10.0.0.1", NormalizeIP(" 10.0.0.1 "))
	assert.Equal(t, "2001:db8::1", NormalizeIP("2001:0db8:0000:0000:0000:0000:0000:0001"))
	assert.Equal(t, "", NormalizeIP("999.1.1.1"))
	assert.Equal(t, "", NormalizeIP("not-an-ip"))
}

func TestNormalizeMAC(t *testing.T) {
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", NormalizeMAC("AA-BB-CC-DD-EE-FF"))
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", NormalizeMAC("aabb.ccdd.eeff"))
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", NormalizeMAC("aabbccddeeff"))
	assert.Equal(t, "", NormalizeMAC("zz:zz:zz:zz:zz:zz"))
	assert.Equal(t, "", NormalizeMAC("aa:bb:cc"))
}

func TestHashTypeByLength(t *testing.T) {
	assert.Equal(t, models.IOCMD5, HashTypeByLength("d41d8cd98f00b204e9800998ecf8427e"))
	assert.Equal(t, models.IOCSHA1, HashTypeByLength("da39a3ee5e6b4b0d3255bfef95601890afd80709"))
	assert.Equal(t, models.IOCSHA256, HashTypeByLength("e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"))
	assert.Equal(t, models.IOCType(""), HashTypeByLength("short"))
}
