package models

import "time"

// IOCType is the kind of indicator an extractor or enrichment deals with.
type IOCType string

const (
	IOCIPv4           IOCType = "ipv4"
	IOCIPv6           IOCType = "ipv6"
	IOCDomain         IOCType = "domain"
	IOCURL            IOCType = "url"
	IOCEmail          IOCType = "email"
	IOCMD5            IOCType = "md5"
	IOCSHA1           IOCType = "sha1"
	IOCSHA256         IOCType = "sha256"
	IOCSHA512         IOCType = "sha512"
	IOCFilePath       IOCType = "filepath"
	IOCCVE            IOCType = "cve"
	IOCMitreTechnique IOCType = "mitre_technique"
	IOCRegistryKey    IOCType = "registry_key"
	IOCBitcoin        IOCType = "bitcoin"
)

// IOCMatch is one indicator found in a piece of text.
type IOCMatch struct {
	Value   string  `json:"value"` // normalized (refanged, case-folded)
	Type    IOCType `json:"type"`
	Start   int     `json:"start"` // byte offset in source text
	End     int     `json:"end"`
	Context string  `json:"context,omitempty"` // snippet around the match
}

// Verdict is the aggregate judgement over an indicator.
type Verdict string

const (
	VerdictMalicious  Verdict = "malicious"
	VerdictSuspicious Verdict = "suspicious"
	VerdictClean      Verdict = "clean"
	VerdictUnknown    Verdict = "unknown"
)

// verdictRank implements the merge precedence
// malicious > suspicious > unknown > clean.
func verdictRank(v Verdict) int {
	switch v {
	case VerdictMalicious:
		return 3
	case VerdictSuspicious:
		return 2
	case VerdictUnknown:
		return 1
	case VerdictClean:
		return 0
	}
	return -1
}

// MergeVerdicts returns the highest-precedence verdict of the two.
func MergeVerdicts(a, b Verdict) Verdict {
	if verdictRank(b) > verdictRank(a) {
		return b
	}
	return a
}

// EnrichmentStatus describes how an enrichment result was produced.
type EnrichmentStatus string

const (
	EnrichmentCompleted EnrichmentStatus = "completed"
	EnrichmentCached    EnrichmentStatus = "cached"
	EnrichmentNotFound  EnrichmentStatus = "not_found"
	EnrichmentFailed    EnrichmentStatus = "failed"
)

// ProviderResult is one provider's payload for an indicator.
type ProviderResult struct {
	Provider  string                 `json:"provider"`
	Score     *float64               `json:"score,omitempty"` // 0-100
	Verdict   Verdict                `json:"verdict,omitempty"`
	Tags      []string               `json:"tags,omitempty"`
	FirstSeen *time.Time             `json:"firstSeen,omitempty"`
	LastSeen  *time.Time             `json:"lastSeen,omitempty"`
	Raw       map[string]interface{} `json:"raw,omitempty"`
}

// EnrichmentResult is the merged view of all providers for one indicator.
type EnrichmentResult struct {
	Indicator  string           `json:"indicator"`
	Type       IOCType          `json:"type"`
	Status     EnrichmentStatus `json:"status"`
	Providers  []ProviderResult `json:"providers,omitempty"`
	Score      *float64         `json:"score,omitempty"` // averaged, 0-100
	Verdict    Verdict          `json:"verdict"`
	Tags       []string         `json:"tags,omitempty"`
	FirstSeen  *time.Time       `json:"firstSeen,omitempty"`
	LastSeen   *time.Time       `json:"lastSeen,omitempty"`
	EnrichedAt time.Time        `json:"enrichedAt"`
	CacheHit   bool             `json:"cacheHit"`
	Errors     []string         `json:"errors,omitempty"`
}
