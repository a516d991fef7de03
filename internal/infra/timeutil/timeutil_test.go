package timeutil_test

import (
	"testing"
	"time"

	"telegram-forwarder/internal/infra/timeutil"
)

func TestParseDelay(t *testing.T) {
	t.Parallel()

	const fallback = 45 * time.Second

	cases := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{name: "empty", value: "", want: time.Second},
		{name: "zeroFloored", value: "0", want: time.Second},
		{name: "bareSeconds", value: "90", want: 90 * time.Second},
		{name: "minutesSeconds", value: "5m30s", want: 330 * time.Second},
		{name: "hourOnly", value: "1h", want: 3600 * time.Second},
		{name: "spacedAndUpper", value: " 1H 2m  45S ", want: time.Hour + 2*time.Minute + 45*time.Second},
		{name: "reorderedUnits", value: "30s 2m", want: 2*time.Minute + 30*time.Second},
		{name: "garbage", value: "soon", want: fallback},
		{name: "trailingGarbage", value: "5m xyz", want: fallback},
		{name: "negativeNumber", value: "-5", want: time.Second},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := timeutil.ParseDelay(tc.value, fallback)
			if got != tc.want {
				t.Fatalf("ParseDelay(%q) = %v, want %v", tc.value, got, tc.want)
			}
		})
	}
}

func TestParseDelayStrict(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		value   string
		want    time.Duration
		wantErr bool
	}{
		{name: "empty", value: "", want: time.Second},
		{name: "bareSeconds", value: "90", want: 90 * time.Second},
		{name: "minutesSeconds", value: "5m30s", want: 330 * time.Second},
		{name: "unknownUnit", value: "5x", wantErr: true},
		{name: "garbage", value: "garbage input", wantErr: true},
		{name: "trailingGarbage", value: "5m xyz", wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := timeutil.ParseDelayStrict(tc.value)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseDelayStrict(%q) = %v, want error", tc.value, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDelayStrict(%q) error: %v", tc.value, err)
			}
			if got != tc.want {
				t.Fatalf("ParseDelayStrict(%q) = %v, want %v", tc.value, got, tc.want)
			}
		})
	}
}

func TestFormatDelay(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   time.Duration
		want string
	}{
		{name: "secondsOnly", in: 45 * time.Second, want: "45s"},
		{name: "minutesAndSeconds", in: 2*time.Minute + 45*time.Second, want: "2m 45s"},
		{name: "wholeHour", in: time.Hour, want: "1h"},
		{name: "allUnits", in: time.Hour + time.Minute + time.Second, want: "1h 1m 1s"},
		{name: "belowFloor", in: 0, want: "1s"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := timeutil.FormatDelay(tc.in); got != tc.want {
				t.Fatalf("FormatDelay(%v) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestParseDelayFormatRoundTrip(t *testing.T) {
	t.Parallel()

	for _, d := range []time.Duration{
		time.Second,
		330 * time.Second,
		time.Hour + 2*time.Minute + 45*time.Second,
	} {
		got := timeutil.ParseDelay(timeutil.FormatDelay(d), 0)
		if got != d {
			t.Fatalf("round trip of %v = %v", d, got)
		}
	}
}

func TestParseExpiry(t *testing.T) {
	t.Parallel()

	got, err := timeutil.ParseExpiry("2026-09-23-15:04:05")
	if err != nil {
		t.Fatalf("ParseExpiry() error: %v", err)
	}
	want := time.Date(2026, 9, 23, 15, 4, 5, 0, time.Local)
	if !got.Equal(want) {
		t.Fatalf("ParseExpiry() = %v, want %v", got, want)
	}

	if zero, err := timeutil.ParseExpiry(""); err != nil || !zero.IsZero() {
		t.Fatalf("ParseExpiry(\"\") = %v, %v; want zero time", zero, err)
	}

	if _, err := timeutil.ParseExpiry("23.09.2026"); err == nil {
		t.Fatal("ParseExpiry() accepted malformed input")
	}
}

func TestIsExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 9, 23, 12, 0, 0, 0, time.Local)

	if timeutil.IsExpired(time.Time{}, now) {
		t.Fatal("unlimited account reported expired")
	}
	if timeutil.IsExpired(now.Add(time.Minute), now) {
		t.Fatal("future expiry reported expired")
	}
	if !timeutil.IsExpired(now.Add(-time.Second), now) {
		t.Fatal("past expiry not reported expired")
	}
}
