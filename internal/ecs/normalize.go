// Package ecs flattens parsed events into Elastic Common Schema documents
// ready for bulk indexing.
package ecs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/argus-soc/argus/internal/models"
)

// Version is the ECS version stamped on every emitted document.
const Version = "8.11.0"

// Document is the wire form of a ParsedEvent, keyed under nested ECS paths.
type Document map[string]interface{}

// Normalize turns a ParsedEvent into a search-ready document plus a list of
// validation warnings. Warnings never reject the event.
func Normalize(ev *models.ParsedEvent) (Document, []string) {
	doc := Document{}
	var warnings []string

	if ev.Timestamp.IsZero() {
		warnings = append(warnings, "missing @timestamp")
	} else {
		doc["@timestamp"] = ev.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	if ev.Message != "" {
		doc["message"] = ev.Message
	}

	event := map[string]interface{}{}
	if ev.Kind != "" {
		event["kind"] = string(ev.Kind)
	}
	if len(ev.Categories) > 0 {
		cats := make([]string, len(ev.Categories))
		for i, c := range ev.Categories {
			cats[i] = string(c)
		}
		event["category"] = cats
	} else {
		warnings = append(warnings, "missing event.category")
	}
	if len(ev.Types) > 0 {
		event["type"] = append([]string(nil), ev.Types...)
	}
	if ev.Action != "" {
		event["action"] = ev.Action
	}
	if ev.Outcome != "" {
		event["outcome"] = string(ev.Outcome)
	}
	if ev.Severity > 0 {
		event["severity"] = ev.Severity
	}
	if ev.Source.Type != "" {
		event["module"] = ev.Source.Type
	}
	if len(event) > 0 {
		doc["event"] = event
	}

	if ev.Host != nil {
		doc["host"] = normalizeHost(ev.Host, &warnings)
	}
	if ev.User != nil {
		user := map[string]interface{}{}
		putStr(user, "name", ev.User.Name)
		putStr(user, "domain", ev.User.Domain)
		putStr(user, "id", ev.User.ID)
		if len(user) > 0 {
			doc["user"] = user
		}
	}
	if ev.Process != nil {
		doc["process"] = normalizeProcess(ev.Process)
	}
	if ev.File != nil {
		doc["file"] = normalizeFile(ev.File)
	}
	if ev.Network != nil {
		normalizeNetwork(doc, ev.Network)
	}
	if ev.URL != nil {
		doc["url"] = normalizeURL(ev.URL)
	}

	logSection := map[string]interface{}{}
	putStr(logSection, "file.path", ev.Source.File)
	if ev.Source.Line > 0 {
		logSection["file.line"] = ev.Source.Line
	}
	if len(logSection) > 0 {
		doc["log"] = logSection
	}

	if len(ev.Labels) > 0 {
		labels := make(map[string]interface{}, len(ev.Labels))
		for k, v := range ev.Labels {
			labels[k] = v
		}
		doc["labels"] = labels
	}
	if len(ev.Tags) > 0 {
		doc["tags"] = append([]string(nil), ev.Tags...)
	}
	if len(ev.Raw) > 0 {
		doc["raw"] = ev.Raw
	}

	doc["ecs"] = map[string]interface{}{"version": Version}

	return doc, warnings
}

// DocumentID returns the deterministic id for an event:
// sha256(timestamp_iso | source_type | source_file | source_line | message)
// truncated to 20 hex characters, so replays suppress duplicates.
func DocumentID(ev *models.ParsedEvent) string {
	key := fmt.Sprintf("%s|%s|%s|%d|%s",
		ev.Timestamp.UTC().Format(time.RFC3339),
		ev.Source.Type,
		ev.Source.File,
		ev.Source.Line,
		ev.Message,
	)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:20]
}

func normalizeHost(h *models.HostInfo, warnings *[]string) map[string]interface{} {
	host := map[string]interface{}{}
	putStr(host, "name", h.Name)
	if len(h.IPs) > 0 {
		ips := make([]string, 0, len(h.IPs))
		for _, raw := range h.IPs {
			if ip := NormalizeIP(raw); ip != "" {
				ips = append(ips, ip)
			} else {
				*warnings = append(*warnings, "discarded invalid host ip: "+raw)
			}
		}
		if len(ips) > 0 {
			host["ip"] = ips
		}
	}
	if len(h.MACs) > 0 {
		macs := make([]string, 0, len(h.MACs))
		for _, raw := range h.MACs {
			if mac := NormalizeMAC(raw); mac != "" {
				macs = append(macs, mac)
			}
		}
		if len(macs) > 0 {
			host["mac"] = macs
		}
	}
	if h.OSName != "" || h.OSVersion != "" {
		osSection := map[string]interface{}{}
		putStr(osSection, "name", h.OSName)
		putStr(osSection, "version", h.OSVersion)
		host["os"] = osSection
	}
	return host
}

func normalizeProcess(p *models.ProcessInfo) map[string]interface{} {
	proc := map[string]interface{}{}
	putStr(proc, "name", p.Name)
	if p.PID > 0 {
		proc["pid"] = p.PID
	}
	if p.PPID > 0 {
		proc["parent"] = map[string]interface{}{"pid": p.PPID}
	}
	putStr(proc, "executable", p.Executable)
	if p.CommandLine != "" {
		proc["command_line"] = p.CommandLine
		proc["args"] = ParseCommandLine(p.CommandLine)
	}
	return proc
}

func normalizeFile(f *models.FileInfo) map[string]interface{} {
	file := map[string]interface{}{}
	putStr(file, "name", f.Name)
	putStr(file, "path", f.Path)
	hash := map[string]interface{}{}
	for _, h := range []struct{ name, value string }{
		{"md5", f.MD5}, {"sha1", f.SHA1}, {"sha256", f.SHA256},
	} {
		if h.value != "" {
			hash[h.name] = strings.ToLower(h.value)
		}
	}
	if len(hash) > 0 {
		file["hash"] = hash
	}
	return file
}

func normalizeNetwork(doc Document, n *models.NetworkInfo) {
	if n.SrcIP != "" || n.SrcPort > 0 {
		src := map[string]interface{}{}
		if ip := NormalizeIP(n.SrcIP); ip != "" {
			src["ip"] = ip
		}
		if n.SrcPort > 0 {
			src["port"] = n.SrcPort
		}
		if len(src) > 0 {
			doc["source"] = src
		}
	}
	if n.DstIP != "" || n.DstPort > 0 {
		dst := map[string]interface{}{}
		if ip := NormalizeIP(n.DstIP); ip != "" {
			dst["ip"] = ip
		}
		if n.DstPort > 0 {
			dst["port"] = n.DstPort
		}
		if len(dst) > 0 {
			doc["destination"] = dst
		}
	}
	network := map[string]interface{}{}
	if n.Protocol != "" {
		network["protocol"] = strings.ToLower(n.Protocol)
	}
	putStr(network, "direction", n.Direction)
	if len(network) > 0 {
		doc["network"] = network
	}
}

func normalizeURL(u *models.URLInfo) map[string]interface{} {
	out := map[string]interface{}{}
	full := u.Full
	putStr(out, "full", full)
	scheme, domain, port, path, query := u.Scheme, u.Domain, u.Port, u.Path, u.Query

	// Derive missing components from url.full when present.
	if full != "" {
		if parsed, err := url.Parse(full); err == nil {
			if scheme == "" {
				scheme = parsed.Scheme
			}
			if domain == "" {
				domain = parsed.Hostname()
			}
			if port == 0 {
				if p := parsed.Port(); p != "" {
					if n, err := strconv.Atoi(p); err == nil {
						port = n
					}
				}
			}
			if path == "" {
				path = parsed.Path
			}
			if query == "" {
				query = parsed.RawQuery
			}
		}
	}
	putStr(out, "scheme", scheme)
	putStr(out, "domain", domain)
	if port > 0 {
		out["port"] = port
	}
	putStr(out, "path", path)
	putStr(out, "query", query)
	return out
}

// NormalizeIP validates an IP string and returns its canonical form, or ""
// when it is not a valid IPv4/IPv6 address.
func NormalizeIP(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	ip := net.ParseIP(raw)
	if ip == nil {
		return ""
	}
	return ip.String()
}

// NormalizeMAC lowercases a MAC address and normalizes separators to colons.
// Returns "" for anything that is not 6 octets of hex.
func NormalizeMAC(raw string) string {
	raw = strings.TrimSpace(strings.ToLower(raw))
	raw = strings.ReplaceAll(raw, "-", ":")
	raw = strings.ReplaceAll(raw, ".", "")
	if !strings.Contains(raw, ":") && len(raw) == 12 {
		var b strings.Builder
		for i := 0; i < 12; i += 2 {
			if i > 0 {
				b.WriteByte(':')
			}
			b.WriteString(raw[i : i+2])
		}
		raw = b.String()
	}
	hw, err := net.ParseMAC(raw)
	if err != nil || len(hw) != 6 {
		return ""
	}
	return hw.String()
}

// HashTypeByLength detects a hash algorithm from the hex digest length.
func HashTypeByLength(digest string) models.IOCType {
	switch len(digest) {
	case 32:
		return models.IOCMD5
	case 40:
		return models.IOCSHA1
	case 64:
		return models.IOCSHA256
	case 128:
		return models.IOCSHA512
	}
	return ""
}

func putStr(m map[string]interface{}, key, value string) {
	if value != "" {
		m[key] = value
	}
}
