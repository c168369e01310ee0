package quiet

import (
	"testing"
	"time"

	"coin-price-alerts/internal/storage"
)

func mustParse(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse %s: %v", value, err)
	}
	return parsed
}

func newYorkLocal(t *testing.T, hour, minute int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return time.Date(2024, 1, 15, hour, minute, 0, 0, loc)
}

func TestSameDayWindow(t *testing.T) {
	cfg := storage.QuietTimeConfig{Enabled: true, Start: "09:00", End: "17:00", Timezone: "America/New_York"}

	cases := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"inside window", mustParse(t, "2024-01-15T19:00:00Z"), true},   // 14:00 local
		{"before window", mustParse(t, "2024-01-15T13:00:00Z"), false},  // 08:00 local
		{"end boundary exclusive", mustParse(t, "2024-01-15T22:00:00Z"), false}, // 17:00 local
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := IsQuietTime(cfg, tc.now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("IsQuietTime(%s) = %v, want %v", tc.now, got, tc.want)
			}
		})
	}
}

func TestOvernightWindow(t *testing.T) {
	cfg := storage.QuietTimeConfig{Enabled: true, Start: "22:00", End: "07:00", Timezone: "America/New_York"}

	cases := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"late evening", newYorkLocal(t, 23, 0), true},
		{"early morning", newYorkLocal(t, 6, 0), true},
		{"start boundary inclusive", newYorkLocal(t, 22, 0), true},
		{"end boundary exclusive", newYorkLocal(t, 7, 0), false},
		{"before window", newYorkLocal(t, 21, 0), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := IsQuietTime(cfg, tc.now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("IsQuietTime(local %s) = %v, want %v", tc.now, got, tc.want)
			}
		})
	}
}

func TestZeroDurationWindow(t *testing.T) {
	cfg := storage.QuietTimeConfig{Enabled: true, Start: "12:00", End: "12:00", Timezone: "UTC"}

	for hour := 0; hour < 24; hour++ {
		now := time.Date(2024, 1, 15, hour, 0, 0, 0, time.UTC)
		got, err := IsQuietTime(cfg, now)
		if err != nil {
			t.Fatalf("unexpected error at %02d:00: %v", hour, err)
		}
		if got {
			t.Fatalf("start==end window should never be quiet, was at %02d:00", hour)
		}
	}
}

func TestIncompleteConfigNeverQuiet(t *testing.T) {
	cases := []struct {
		name string
		cfg  storage.QuietTimeConfig
	}{
		{"disabled", storage.QuietTimeConfig{Enabled: false, Start: "22:00", End: "07:00", Timezone: "UTC"}},
		{"missing start", storage.QuietTimeConfig{Enabled: true, End: "07:00", Timezone: "UTC"}},
		{"missing end", storage.QuietTimeConfig{Enabled: true, Start: "22:00", Timezone: "UTC"}},
		{"missing timezone", storage.QuietTimeConfig{Enabled: true, Start: "22:00", End: "07:00"}},
	}

	now := time.Date(2024, 1, 15, 23, 0, 0, 0, time.UTC)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := IsQuietTime(tc.cfg, now)
			if err != nil {
				t.Fatalf("incomplete config should not error: %v", err)
			}
			if got {
				t.Fatal("incomplete config must fail open")
			}
		})
	}
}

func TestBadConfigFailsOpenWithError(t *testing.T) {
	now := time.Date(2024, 1, 15, 23, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		cfg  storage.QuietTimeConfig
	}{
		{"bad timezone", storage.QuietTimeConfig{Enabled: true, Start: "22:00", End: "07:00", Timezone: "Not/AZone"}},
		{"bad start", storage.QuietTimeConfig{Enabled: true, Start: "25:00", End: "07:00", Timezone: "UTC"}},
		{"malformed end", storage.QuietTimeConfig{Enabled: true, Start: "22:00", End: "seven", Timezone: "UTC"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := IsQuietTime(tc.cfg, now)
			if err == nil {
				t.Fatal("expected an error for the caller to log")
			}
			if got {
				t.Fatal("errors must fail open, never suppress")
			}
		})
	}
}
