package models

import "time"

// AlertStatus is the triage status of an alert.
type AlertStatus string

const (
	AlertOpen         AlertStatus = "open"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertInProgress   AlertStatus = "in_progress"
	AlertClosed       AlertStatus = "closed"
	AlertSuppressed   AlertStatus = "suppressed"
)

// AlertEntities collects the entities an alert has been observed against.
type AlertEntities struct {
	Hosts []string `json:"hosts,omitempty"`
	Users []string `json:"users,omitempty"`
	IPs   []string `json:"ips,omitempty"`
}

// Merge unions other into e, preserving order of first appearance.
func (e *AlertEntities) Merge(other AlertEntities) {
	e.Hosts = mergeUnique(e.Hosts, other.Hosts)
	e.Users = mergeUnique(e.Users, other.Users)
	e.IPs = mergeUnique(e.IPs, other.IPs)
}

func mergeUnique(dst, src []string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, v := range dst {
		seen[v] = struct{}{}
	}
	for _, v := range src {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			dst = append(dst, v)
		}
	}
	return dst
}

// Alert is a persisted detection alert. Repeat hits inside the dedup window
// update the existing row instead of creating a new one.
type Alert struct {
	ID          string      `json:"id"`
	TenantID    string      `json:"tenantId"`
	RuleID      *string     `json:"ruleId,omitempty"` // survives rule deletion
	RuleName    string      `json:"ruleName"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Severity    int         `json:"severity"` // 0-100
	Status      AlertStatus `json:"status"`

	Fingerprint string `json:"fingerprint"`
	HitCount    int64  `json:"hitCount"` // >= 1

	FirstSeenAt time.Time `json:"firstSeenAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"` // >= FirstSeenAt

	MitreTactics    []string `json:"mitreTactics,omitempty"`
	MitreTechniques []string `json:"mitreTechniques,omitempty"`

	EventRefs []string      `json:"eventRefs,omitempty"` // search document ids
	Entities  AlertEntities `json:"entities"`

	CaseID          *string    `json:"caseId,omitempty"`
	AcknowledgedBy  string     `json:"acknowledgedBy,omitempty"`
	AcknowledgedAt  *time.Time `json:"acknowledgedAt,omitempty"`
	ClosedBy        string     `json:"closedBy,omitempty"`
	ClosedAt        *time.Time `json:"closedAt,omitempty"`
	Resolution      string     `json:"resolution,omitempty"`
	IsFalsePositive bool       `json:"isFalsePositive,omitempty"`
}

// Clone returns a deep copy of the alert so it can be safely shared across
// goroutines.
func (a *Alert) Clone() *Alert {
	if a == nil {
		return nil
	}

	clone := *a

	if a.RuleID != nil {
		id := *a.RuleID
		clone.RuleID = &id
	}
	if a.CaseID != nil {
		id := *a.CaseID
		clone.CaseID = &id
	}
	if a.AcknowledgedAt != nil {
		t := *a.AcknowledgedAt
		clone.AcknowledgedAt = &t
	}
	if a.ClosedAt != nil {
		t := *a.ClosedAt
		clone.ClosedAt = &t
	}
	clone.MitreTactics = append([]string(nil), a.MitreTactics...)
	clone.MitreTechniques = append([]string(nil), a.MitreTechniques...)
	clone.EventRefs = append([]string(nil), a.EventRefs...)
	clone.Entities = AlertEntities{
		Hosts: append([]string(nil), a.Entities.Hosts...),
		Users: append([]string(nil), a.Entities.Users...),
		IPs:   append([]string(nil), a.Entities.IPs...),
	}

	return &clone
}

// Open reports whether the alert is still active for dedup purposes.
func (a *Alert) Open() bool {
	return a.Status != AlertClosed
}
