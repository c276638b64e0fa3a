// Package enrich extracts indicators of compromise from text and resolves
// them against threat-intel providers with caching and verdict merging.
package enrich

import (
	"net"
	"regexp"
	"strings"

	"github.com/argus-soc/argus/internal/models"
)

// Refang undoes common defanging notations so extracted indicators are
// directly actionable: [.] and (dot) become ".", hxxp becomes http, [at]
// becomes "@", [:] becomes ":".
func Refang(text string) string {
	replacements := []struct{ from, to string }{
		{"[.]", "."},
		{"(.)", "."},
		{"[dot]", "."},
		{"(dot)", "."},
		{"[at]", "@"},
		{"(at)", "@"},
		{"[:]", ":"},
		{"hxxps://", "https://"},
		{"hxxp://", "http://"},
		{"hXXps://", "https://"},
		{"hXXp://", "http://"},
	}
	for _, r := range replacements {
		text = strings.ReplaceAll(text, r.from, r.to)
	}
	return text
}

var (
	reIPv4   = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	reIPv6   = regexp.MustCompile(`\b(?:[0-9a-fA-F]{1,4}:){2,7}[0-9a-fA-F]{1,4}\b`)
	reURL    = regexp.MustCompile(`\bhttps?://[^\s"'<>\)\]]+`)
	reEmail  = regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9-]+(?:\.[a-zA-Z0-9-]+)+\b`)
	reDomain = regexp.MustCompile(`\b[a-zA-Z0-9][a-zA-Z0-9-]*(?:\.[a-zA-Z0-9][a-zA-Z0-9-]*)*\.[a-zA-Z]{2,}\b`)
	reHex    = regexp.MustCompile(`\b[a-fA-F0-9]{32}\b|\b[a-fA-F0-9]{40}\b|\b[a-fA-F0-9]{64}\b|\b[a-fA-F0-9]{128}\b`)
	reCVE    = regexp.MustCompile(`(?i)\bCVE-\d{4}-\d{4,}\b`)
	reMitre  = regexp.MustCompile(`\bT\d{4}(?:\.\d{3})?\b`)
	reWinPth = regexp.MustCompile(`\b[A-Za-z]:\\(?:[^\\/\s"'<>|*?]+\\)*[^\\/\s"'<>|*?]+`)
	reRegKey = regexp.MustCompile(`\b(?:HKEY_[A-Z_]+|HKLM|HKCU|HKCR|HKU)\\[^\s"'<>]+`)
	reBTC    = regexp.MustCompile(`\b(?:[13][a-km-zA-HJ-NP-Z1-9]{25,34}|bc1[a-z0-9]{39,59})\b`)
)

// publicDNS are resolver addresses that show up in almost every log and are
// never worth enriching.
var publicDNS = map[string]struct{}{
	"8.8.8.8":         {},
	"8.8.4.4":         {},
	"1.1.1.1":         {},
	"1.0.0.1":         {},
	"9.9.9.9":         {},
	"149.112.112.112": {},
	"208.67.222.222":  {},
	"208.67.220.220":  {},
}

// placeholderDomains appear in documentation and samples, not in the wild.
var placeholderDomains = map[string]struct{}{
	"example.com":     {},
	"example.org":     {},
	"example.net":     {},
	"localhost":       {},
	"localdomain":     {},
	"test.com":        {},
	"domain.com":      {},
	"yourdomain.com":  {},
	"emailaddress.com": {},
}

// Extract scans text for indicators. The input is refanged first; offsets in
// the returned matches refer to the refanged text. At most one match per
// (normalized value, type) is emitted, keeping the first occurrence.
func Extract(text string) []models.IOCMatch {
	text = Refang(text)

	var (
		matches    []models.IOCMatch
		seen       = make(map[string]struct{})
		emailSpans [][2]int
	)
	add := func(value string, typ models.IOCType, start, end int) {
		key := value + "\x00" + string(typ)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		matches = append(matches, models.IOCMatch{
			Value:   value,
			Type:    typ,
			Start:   start,
			End:     end,
			Context: snippet(text, start, end),
		})
	}

	for _, loc := range reURL.FindAllStringIndex(text, -1) {
		v := strings.ToLower(strings.TrimRight(text[loc[0]:loc[1]], ".,;"))
		add(v, models.IOCURL, loc[0], loc[1])
	}

	for _, loc := range reEmail.FindAllStringIndex(text, -1) {
		v := strings.ToLower(text[loc[0]:loc[1]])
		emailSpans = append(emailSpans, [2]int{loc[0], loc[1]})
		add(v, models.IOCEmail, loc[0], loc[1])
	}

	for _, loc := range reIPv4.FindAllStringIndex(text, -1) {
		v := text[loc[0]:loc[1]]
		if filteredIP(v) {
			continue
		}
		add(v, models.IOCIPv4, loc[0], loc[1])
	}

	for _, loc := range reIPv6.FindAllStringIndex(text, -1) {
		v := strings.ToLower(text[loc[0]:loc[1]])
		ip := net.ParseIP(v)
		if ip == nil || ip.To4() != nil || ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() {
			continue
		}
		add(v, models.IOCIPv6, loc[0], loc[1])
	}

	for _, loc := range reDomain.FindAllStringIndex(text, -1) {
		// The host part of an email is not an independent indicator.
		if insideAny(loc, emailSpans) {
			continue
		}
		v := strings.ToLower(text[loc[0]:loc[1]])
		if filteredDomain(v) {
			continue
		}
		add(v, models.IOCDomain, loc[0], loc[1])
	}

	for _, loc := range reHex.FindAllStringIndex(text, -1) {
		v := strings.ToLower(text[loc[0]:loc[1]])
		if filteredHash(v) {
			continue
		}
		var typ models.IOCType
		switch len(v) {
		case 32:
			typ = models.IOCMD5
		case 40:
			typ = models.IOCSHA1
		case 64:
			typ = models.IOCSHA256
		case 128:
			typ = models.IOCSHA512
		default:
			continue
		}
		add(v, typ, loc[0], loc[1])
	}

	for _, loc := range reCVE.FindAllStringIndex(text, -1) {
		add(strings.ToUpper(text[loc[0]:loc[1]]), models.IOCCVE, loc[0], loc[1])
	}
	for _, loc := range reMitre.FindAllStringIndex(text, -1) {
		add(strings.ToUpper(text[loc[0]:loc[1]]), models.IOCMitreTechnique, loc[0], loc[1])
	}
	for _, loc := range reWinPth.FindAllStringIndex(text, -1) {
		add(text[loc[0]:loc[1]], models.IOCFilePath, loc[0], loc[1])
	}
	for _, loc := range reRegKey.FindAllStringIndex(text, -1) {
		add(text[loc[0]:loc[1]], models.IOCRegistryKey, loc[0], loc[1])
	}
	for _, loc := range reBTC.FindAllStringIndex(text, -1) {
		add(text[loc[0]:loc[1]], models.IOCBitcoin, loc[0], loc[1])
	}

	return matches
}

func insideAny(loc []int, spans [][2]int) bool {
	for _, s := range spans {
		if loc[0] >= s[0] && loc[1] <= s[1] {
			return true
		}
	}
	return false
}

func filteredIP(v string) bool {
	ip := net.ParseIP(v)
	if ip == nil {
		return true
	}
	if ip.IsPrivate() || ip.IsLoopback() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsMulticast() {
		return true
	}
	if v == "255.255.255.255" {
		return true
	}
	_, isDNS := publicDNS[v]
	return isDNS
}

func filteredDomain(v string) bool {
	if _, placeholder := placeholderDomains[v]; placeholder {
		return true
	}
	if strings.HasSuffix(v, ".local") || strings.HasSuffix(v, ".internal") {
		return true
	}
	// Bare file names with common extensions trip the domain regex.
	for _, ext := range []string{".exe", ".dll", ".txt", ".log", ".zip", ".json", ".xml", ".html", ".php", ".py", ".sh"} {
		if strings.HasSuffix(v, ext) {
			return true
		}
	}
	return false
}

func filteredHash(v string) bool {
	return strings.Count(v, "0") == len(v) || strings.Count(v, "f") == len(v)
}

// snippet returns the text around a match for analyst context.
func snippet(text string, start, end int) string {
	const pad = 30
	lo := start - pad
	if lo < 0 {
		lo = 0
	}
	hi := end + pad
	if hi > len(text) {
		hi = len(text)
	}
	return strings.TrimSpace(text[lo:hi])
}
