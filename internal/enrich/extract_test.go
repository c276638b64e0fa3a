package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-soc/argus/internal/models"
)

func matchesByType(matches []models.IOCMatch, typ models.IOCType) []string {
	var out []string
	for _, m := range matches {
		if m.Type == typ {
			out = append(out, m.Value)
		}
	}
	return out
}

func TestExtractRefangsDefangedIndicators(t *testing.T) {
	text := `Contact admin[at]evil[.]com, IOC: hxxps://bad[.]example[.]com/x, hash ABCDEF0123456789abcdef0123456789`
	matches := Extract(text)

	assert.Equal(t, []string{"admin@evil.com"}, matchesByType(matches, models.IOCEmail))
	assert.Equal(t, []string{"https://bad.example.com/x"}, matchesByType(matches, models.IOCURL))
	assert.Equal(t, []string{"bad.example.com"}, matchesByType(matches, models.IOCDomain))
	assert.Equal(t, []string{"abcdef0123456789abcdef0123456789"}, matchesByType(matches, models.IOCMD5))
}

func TestExtractFiltersFalsePositives(t *testing.T) {
	text := `Seen 127.0.0.1 and 10.0.0.5 and 8.8.8.8 plus 203.0.113.77, domains example.com and evil-site.org,
		hash 00000000000000000000000000000000`
	matches := Extract(text)

	assert.Equal(t, []string{"203.0.113.77"}, matchesByType(matches, models.IOCIPv4))
	assert.Equal(t, []string{"evil-site.org"}, matchesByType(matches, models.IOCDomain))
	assert.Empty(t, matchesByType(matches, models.IOCMD5), "all-zero hash filtered")
}

func TestExtractDeduplicatesPerValueAndType(t *testing.T) {
	text := `203.0.113.9 talked to 203.0.113.9 twice`
	matches := Extract(text)
	assert.Equal(t, []string{"203.0.113.9"}, matchesByType(matches, models.IOCIPv4))
}

func TestExtractHashesByLength(t *testing.T) {
	text := `md5 d41d8cd98f00b204e9800998ecf8427e
		sha1 da39a3ee5e6b4b0d3255bfef95601890afd80709
		sha256 e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855`
	matches := Extract(text)

	assert.Equal(t, []string{"d41d8cd98f00b204e9800998ecf8427e"}, matchesByType(matches, models.IOCMD5))
	assert.Equal(t, []string{"da39a3ee5e6b4b0d3255bfef95601890afd80709"}, matchesByType(matches, models.IOCSHA1))
	assert.Equal(t, []string{"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"}, matchesByType(matches, models.IOCSHA256))
}

func TestExtractCVEAndMitre(t *testing.T) {
	text := `exploits cve-2024-12345 mapped to t1059.001`
	matches := Extract(text)
	assert.Equal(t, []string{"CVE-2024-12345"}, matchesByType(matches, models.IOCCVE))
	// MITRE ids are only matched uppercase in the wild; lowercase t1059 is
	// too noisy to promote.
	assert.Empty(t, matchesByType(matches, models.IOCMitreTechnique))

	matches = Extract("technique T1059.001 and T1566")
	assert.Equal(t, []string{"T1059.001", "T1566"}, matchesByType(matches, models.IOCMitreTechnique))
}

func TestExtractWindowsArtifacts(t *testing.T) {
	text := `dropped C:\Users\victim\AppData\evil.exe and set HKLM\Software\Run\Updater`
	matches := Extract(text)
	assert.Equal(t, []string{`C:\Users\victim\AppData\evil.exe`}, matchesByType(matches, models.IOCFilePath))
	assert.Equal(t, []string{`HKLM\Software\Run\Updater`}, matchesByType(matches, models.IOCRegistryKey))
}

func TestRefang(t *testing.T) {
	require.Equal(t, "http://evil.com", Refang("hxxp://evil[.]com"))
	require.Equal(t, "user@host.net", Refang("user[at]host[dot]net"))
}
