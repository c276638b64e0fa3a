package parsers

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/argus-soc/argus/internal/models"
)

// EVTXParser reads Windows event logs exported as an XML event stream (the
// <Events><Event>... form produced by wevtutil and most forensic tooling).
type EVTXParser struct{}

// NewEVTXParser creates the parser.
func NewEVTXParser() *EVTXParser { return &EVTXParser{} }

// Metadata implements Parser.
func (p *EVTXParser) Metadata() Metadata {
	return Metadata{
		Name:        "evtx",
		Category:    CategoryWindowsEvent,
		Description: "Windows event log (XML export)",
		Extensions:  []string{".evtx", ".xml"},
		MIMETypes:   []string{"application/xml", "text/xml"},
		Priority:    50,
	}
}

// CanParse implements Parser.
func (p *EVTXParser) CanParse(path string, head []byte) bool {
	if len(head) > 0 {
		trimmed := bytes.TrimLeft(head, " \t\r\n\xef\xbb\xbf")
		if bytes.HasPrefix(trimmed, []byte("<?xml")) || bytes.HasPrefix(trimmed, []byte("<Events")) || bytes.HasPrefix(trimmed, []byte("<Event ")) || bytes.HasPrefix(trimmed, []byte("<Event>")) {
			return true
		}
		return false
	}
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".evtx") || strings.HasSuffix(lower, ".evtx.xml")
}

type evtxSystem struct {
	Provider struct {
		Name string `xml:"Name,attr"`
	} `xml:"Provider"`
	EventID       string `xml:"EventID"`
	Level         string `xml:"Level"`
	TimeCreated   struct {
		SystemTime string `xml:"SystemTime,attr"`
	} `xml:"TimeCreated"`
	EventRecordID string `xml:"EventRecordID"`
	Channel       string `xml:"Channel"`
	Computer      string `xml:"Computer"`
}

type evtxData struct {
	Name  string `xml:"Name,attr"`
	Value string `xml:",chardata"`
}

type evtxEvent struct {
	System    evtxSystem `xml:"System"`
	EventData struct {
		Data []evtxData `xml:"Data"`
	} `xml:"EventData"`
}

// Parse implements Parser.
func (p *EVTXParser) Parse(ctx context.Context, src io.Reader, sourceName string, emit EmitFunc) error {
	dec := xml.NewDecoder(src)
	failures := newFailureCounter("evtx", sourceName)
	var record int64

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			// A trailing partial record is a warning, not an error.
			if record > 0 {
				return failures.record(record+1, fmt.Errorf("truncated event stream: %w", err))
			}
			return fmt.Errorf("invalid XML event stream: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "Event" {
			continue
		}

		record++
		var raw evtxEvent
		if err := dec.DecodeElement(&raw, &start); err != nil {
			if err := failures.record(record, err); err != nil {
				return err
			}
			continue
		}

		ev, err := p.toEvent(&raw, sourceName, record)
		if err != nil {
			if err := failures.record(record, err); err != nil {
				return err
			}
			continue
		}
		if err := emit(ev); err != nil {
			return err
		}
	}
}

func (p *EVTXParser) toEvent(raw *evtxEvent, sourceName string, record int64) (*models.ParsedEvent, error) {
	ts, err := time.Parse(time.RFC3339Nano, raw.System.TimeCreated.SystemTime)
	if err != nil {
		parsed, ok := parseTimestamp(raw.System.TimeCreated.SystemTime)
		if !ok {
			return nil, fmt.Errorf("record %d has no usable SystemTime %q", record, raw.System.TimeCreated.SystemTime)
		}
		ts = parsed
	}

	data := make(map[string]string, len(raw.EventData.Data))
	for _, d := range raw.EventData.Data {
		data[d.Name] = strings.TrimSpace(d.Value)
	}

	eventID, _ := strconv.Atoi(strings.TrimSpace(raw.System.EventID))
	ev := &models.ParsedEvent{
		Timestamp: ts.UTC(),
		Source: models.EventSource{
			Type: "evtx",
			File: sourceName,
			Line: record,
		},
		Kind:    models.KindEvent,
		Outcome: models.OutcomeUnknown,
		Labels: map[string]string{
			"event_id": strconv.Itoa(eventID),
			"channel":  raw.System.Channel,
			"provider": raw.System.Provider.Name,
		},
		Raw: map[string]interface{}{
			"event_id":  eventID,
			"record_id": raw.System.EventRecordID,
			"data":      toRawMap(data),
		},
	}

	if raw.System.Computer != "" {
		ev.Host = &models.HostInfo{Name: raw.System.Computer, OSName: "Windows"}
	}

	applyEventID(ev, eventID, data)

	if ev.Message == "" {
		ev.Message = fmt.Sprintf("Windows event %d from %s", eventID, raw.System.Provider.Name)
	}
	return ev, nil
}

// applyEventID maps well-known Security/System event ids onto ECS semantics.
func applyEventID(ev *models.ParsedEvent, eventID int, data map[string]string) {
	user := func() *models.UserInfo {
		if ev.User == nil {
			ev.User = &models.UserInfo{}
		}
		return ev.User
	}

	switch eventID {
	case 4624:
		ev.Categories = []models.EventCategory{models.CategoryAuthentication}
		ev.Types = []string{"start"}
		ev.Action = "user_logon"
		ev.Outcome = models.OutcomeSuccess
		ev.Severity = 20
		u := user()
		u.Name = data["TargetUserName"]
		u.Domain = data["TargetDomainName"]
		u.ID = data["TargetUserSid"]
		ev.Message = fmt.Sprintf("Successful logon for %s\\%s", data["TargetDomainName"], data["TargetUserName"])
		setSourceAddress(ev, data)
	case 4625:
		ev.Categories = []models.EventCategory{models.CategoryAuthentication}
		ev.Types = []string{"start"}
		ev.Action = "user_logon"
		ev.Outcome = models.OutcomeFailure
		ev.Severity = 45
		u := user()
		u.Name = data["TargetUserName"]
		u.Domain = data["TargetDomainName"]
		ev.Message = fmt.Sprintf("Failed logon for %s\\%s (status %s)", data["TargetDomainName"], data["TargetUserName"], data["Status"])
		setSourceAddress(ev, data)
	case 4634, 4647:
		ev.Categories = []models.EventCategory{models.CategoryAuthentication}
		ev.Types = []string{"end"}
		ev.Action = "user_logoff"
		ev.Outcome = models.OutcomeSuccess
		ev.Severity = 10
		u := user()
		u.Name = data["TargetUserName"]
		u.Domain = data["TargetDomainName"]
	case 4672:
		ev.Categories = []models.EventCategory{models.CategoryIAM}
		ev.Action = "special_privileges_assigned"
		ev.Severity = 30
		u := user()
		u.Name = data["SubjectUserName"]
		u.Domain = data["SubjectDomainName"]
	case 4688:
		ev.Categories = []models.EventCategory{models.CategoryProcess}
		ev.Types = []string{"start"}
		ev.Action = "process_created"
		ev.Outcome = models.OutcomeSuccess
		ev.Severity = 25
		pid, _ := strconv.ParseInt(strings.TrimPrefix(data["NewProcessId"], "0x"), 16, 64)
		ppid, _ := strconv.ParseInt(strings.TrimPrefix(data["ProcessId"], "0x"), 16, 64)
		ev.Process = &models.ProcessInfo{
			Name:        baseName(data["NewProcessName"]),
			Executable:  data["NewProcessName"],
			CommandLine: data["CommandLine"],
			PID:         pid,
			PPID:        ppid,
		}
		u := user()
		u.Name = data["SubjectUserName"]
		u.Domain = data["SubjectDomainName"]
		ev.Message = "Process created: " + data["NewProcessName"]
	case 4720:
		ev.Categories = []models.EventCategory{models.CategoryIAM}
		ev.Types = []string{"creation"}
		ev.Action = "user_created"
		ev.Outcome = models.OutcomeSuccess
		ev.Severity = 40
		u := user()
		u.Name = data["TargetUserName"]
		u.Domain = data["TargetDomainName"]
	case 4726:
		ev.Categories = []models.EventCategory{models.CategoryIAM}
		ev.Types = []string{"deletion"}
		ev.Action = "user_deleted"
		ev.Severity = 40
	case 1102:
		ev.Categories = []models.EventCategory{models.CategoryConfiguration}
		ev.Action = "audit_log_cleared"
		ev.Outcome = models.OutcomeSuccess
		ev.Severity = 75
		ev.Message = "The audit log was cleared"
	case 7045:
		ev.Categories = []models.EventCategory{models.CategoryConfiguration}
		ev.Types = []string{"installation"}
		ev.Action = "service_installed"
		ev.Severity = 50
		ev.Message = "Service installed: " + data["ServiceName"]
	default:
		ev.Categories = []models.EventCategory{models.CategoryProcess}
	}
}

func setSourceAddress(ev *models.ParsedEvent, data map[string]string) {
	ip := data["IpAddress"]
	if ip == "" || ip == "-" {
		return
	}
	port, _ := strconv.Atoi(data["IpPort"])
	ev.Network = &models.NetworkInfo{SrcIP: ip, SrcPort: port, Direction: "inbound"}
}

func baseName(path string) string {
	if idx := strings.LastIndexAny(path, `\/`); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

func toRawMap(data map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
