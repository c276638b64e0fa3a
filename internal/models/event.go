package models

import "time"

// EventKind classifies a parsed record per the ECS event.kind taxonomy.
type EventKind string

const (
	KindAlert         EventKind = "alert"
	KindEvent         EventKind = "event"
	KindMetric        EventKind = "metric"
	KindState         EventKind = "state"
	KindSignal        EventKind = "signal"
	KindPipelineError EventKind = "pipeline_error"
)

// EventOutcome is the ECS event.outcome value.
type EventOutcome string

const (
	OutcomeSuccess EventOutcome = "success"
	OutcomeFailure EventOutcome = "failure"
	OutcomeUnknown EventOutcome = "unknown"
)

// EventCategory is an ECS event.category value. Multi-valued on events.
type EventCategory string

const (
	CategoryAuthentication EventCategory = "authentication"
	CategoryProcess        EventCategory = "process"
	CategoryFile           EventCategory = "file"
	CategoryNetwork        EventCategory = "network"
	CategoryIAM            EventCategory = "iam"
	CategoryWeb            EventCategory = "web"
	CategoryConfiguration  EventCategory = "configuration"
	CategoryCloud          EventCategory = "cloud"
	CategoryMalware        EventCategory = "malware"
	CategoryIntrusion      EventCategory = "intrusion_detection"
	CategoryRegistry       EventCategory = "registry"
	CategoryDriver         EventCategory = "driver"
	CategoryPackage        EventCategory = "package"
	CategoryEmail          EventCategory = "email"
)

// HostInfo carries the host facets of a parsed event.
type HostInfo struct {
	Name      string   `json:"name,omitempty"`
	IPs       []string `json:"ips,omitempty"`
	MACs      []string `json:"macs,omitempty"`
	OSName    string   `json:"osName,omitempty"`
	OSVersion string   `json:"osVersion,omitempty"`
}

// UserInfo carries the user facets of a parsed event.
type UserInfo struct {
	Name   string `json:"name,omitempty"`
	Domain string `json:"domain,omitempty"`
	ID     string `json:"id,omitempty"`
}

// ProcessInfo carries the process facets of a parsed event.
type ProcessInfo struct {
	Name        string `json:"name,omitempty"`
	PID         int64  `json:"pid,omitempty"`
	PPID        int64  `json:"ppid,omitempty"`
	Executable  string `json:"executable,omitempty"`
	CommandLine string `json:"commandLine,omitempty"`
}

// FileInfo carries the file facets of a parsed event.
type FileInfo struct {
	Name   string `json:"name,omitempty"`
	Path   string `json:"path,omitempty"`
	SHA256 string `json:"sha256,omitempty"`
	SHA1   string `json:"sha1,omitempty"`
	MD5    string `json:"md5,omitempty"`
}

// NetworkInfo carries the network facets of a parsed event.
type NetworkInfo struct {
	SrcIP     string `json:"srcIp,omitempty"`
	SrcPort   int    `json:"srcPort,omitempty"`
	DstIP     string `json:"dstIp,omitempty"`
	DstPort   int    `json:"dstPort,omitempty"`
	Protocol  string `json:"protocol,omitempty"`
	Direction string `json:"direction,omitempty"`
}

// URLInfo carries the URL facets of a parsed event.
type URLInfo struct {
	Full   string `json:"full,omitempty"`
	Scheme string `json:"scheme,omitempty"`
	Domain string `json:"domain,omitempty"`
	Port   int    `json:"port,omitempty"`
	Path   string `json:"path,omitempty"`
	Query  string `json:"query,omitempty"`
}

// EventSource identifies where a parsed event came from.
type EventSource struct {
	Type string `json:"type,omitempty"` // parser name, e.g. "evtx", "syslog"
	File string `json:"file,omitempty"`
	Line int64  `json:"line,omitempty"` // line or record number, 1-based
}

// ParsedEvent is the canonical in-memory record emitted by parsers.
// It is immutable once yielded; the ECS normalizer flattens it before
// indexing.
type ParsedEvent struct {
	Timestamp time.Time   `json:"timestamp"` // required, UTC
	Message   string      `json:"message,omitempty"`
	Source    EventSource `json:"source"`

	Kind       EventKind       `json:"kind,omitempty"`
	Categories []EventCategory `json:"categories,omitempty"`
	Types      []string        `json:"types,omitempty"`
	Action     string          `json:"action,omitempty"`
	Outcome    EventOutcome    `json:"outcome,omitempty"`
	Severity   int             `json:"severity,omitempty"` // 0-100

	Host    *HostInfo    `json:"host,omitempty"`
	User    *UserInfo    `json:"user,omitempty"`
	Process *ProcessInfo `json:"process,omitempty"`
	File    *FileInfo    `json:"file,omitempty"`
	Network *NetworkInfo `json:"network,omitempty"`
	URL     *URLInfo     `json:"url,omitempty"`

	Raw    map[string]interface{} `json:"raw,omitempty"`
	Labels map[string]string      `json:"labels,omitempty"`
	Tags   []string               `json:"tags,omitempty"`
}

// Clone returns a deep copy of the event so it can be safely shared across
// goroutines.
func (e *ParsedEvent) Clone() *ParsedEvent {
	if e == nil {
		return nil
	}

	clone := *e

	if e.Categories != nil {
		clone.Categories = append([]EventCategory(nil), e.Categories...)
	}
	if e.Types != nil {
		clone.Types = append([]string(nil), e.Types...)
	}
	if e.Tags != nil {
		clone.Tags = append([]string(nil), e.Tags...)
	}
	if e.Host != nil {
		h := *e.Host
		h.IPs = append([]string(nil), e.Host.IPs...)
		h.MACs = append([]string(nil), e.Host.MACs...)
		clone.Host = &h
	}
	if e.User != nil {
		u := *e.User
		clone.User = &u
	}
	if e.Process != nil {
		p := *e.Process
		clone.Process = &p
	}
	if e.File != nil {
		f := *e.File
		clone.File = &f
	}
	if e.Network != nil {
		n := *e.Network
		clone.Network = &n
	}
	if e.URL != nil {
		u := *e.URL
		clone.URL = &u
	}
	if e.Labels != nil {
		labels := make(map[string]string, len(e.Labels))
		for k, v := range e.Labels {
			labels[k] = v
		}
		clone.Labels = labels
	}
	if e.Raw != nil {
		clone.Raw = cloneRaw(e.Raw)
	}

	return &clone
}

func cloneRaw(src map[string]interface{}) map[string]interface{} {
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = cloneRawValue(v)
	}
	return dst
}

func cloneRawValue(val interface{}) interface{} {
	switch v := val.(type) {
	case map[string]interface{}:
		return cloneRaw(v)
	case []interface{}:
		arr := make([]interface{}, len(v))
		for i, elem := range v {
			arr[i] = cloneRawValue(elem)
		}
		return arr
	case []string:
		arr := make([]string, len(v))
		copy(arr, v)
		return arr
	default:
		return v
	}
}
