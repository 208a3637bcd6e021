package fingerprint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func TestComputeStableForSameSignals(t *testing.T) {
	signals := Signals{
		UserAgent:        chromeUA,
		IP:               "203.0.113.7",
		ScreenResolution: "1920x1080",
		Timezone:         "Asia/Jakarta",
		Language:         "en-US",
		Platform:         "Win32",
	}
	day := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	first := Compute(signals, day)
	second := Compute(signals, day.Add(5*time.Hour))

	assert.Equal(t, first, second, "same day and signals must hash identically")
	assert.Len(t, first, 64)
}

func TestComputeRotatesAcrossDays(t *testing.T) {
	signals := Signals{UserAgent: chromeUA, IP: "203.0.113.7"}
	day := time.Date(2025, 3, 14, 23, 30, 0, 0, time.UTC)

	assert.NotEqual(t, Compute(signals, day), Compute(signals, day.Add(time.Hour)))
}

func TestComputeDiffersPerDevice(t *testing.T) {
	day := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	a := Compute(Signals{UserAgent: chromeUA, IP: "203.0.113.7"}, day)
	b := Compute(Signals{UserAgent: chromeUA, IP: "198.51.100.2"}, day)

	assert.NotEqual(t, a, b)
}

func TestComputeIgnoresMinorVersionBumps(t *testing.T) {
	day := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	bumped := Signals{UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36", IP: "203.0.113.7"}
	original := Signals{UserAgent: chromeUA, IP: "203.0.113.7"}

	assert.Equal(t, Compute(original, day), Compute(bumped, day))
}

func TestBrowserFamily(t *testing.T) {
	cases := map[string]string{
		chromeUA: "chrome",
		"Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/119.0":                "firefox",
		"Mozilla/5.0 (Windows NT 10.0) AppleWebKit/537.36 Chrome/120.0.0.0 Safari/537.36 Edg/120.0": "edge",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 Version/17.0 Safari/605.1.15": "safari",
		"": "unknown",
		"curl/8.0.1": "other",
	}

	for ua, want := range cases {
		assert.Equal(t, want, BrowserFamily(ua), ua)
	}
}
