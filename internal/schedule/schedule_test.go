package schedule

import (
	"strings"
	"testing"
	"time"
)

func TestParseRejectsWrongFieldCount(t *testing.T) {
	for _, expr := range []string{"* * * *", "* * * * * *", "", "not a cron"} {
		if _, err := Parse(expr); err == nil {
			t.Errorf("Parse(%q) accepted", expr)
		}
	}
}

func TestParseAliases(t *testing.T) {
	for _, expr := range []string{"@hourly", "@daily", "@weekly", "@monthly", "@yearly", "@annually"} {
		if _, err := Parse(expr); err != nil {
			t.Errorf("Parse(%q): %v", expr, err)
		}
	}
}

func TestNextIsStrictlyAfterFrom(t *testing.T) {
	spec, err := Parse("30 14 * * *")
	if err != nil {
		t.Fatal(err)
	}

	from := time.Date(2026, 8, 26, 14, 30, 0, 0, time.UTC)
	next, err := spec.Next(from)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 8, 27, 14, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next = %v, want %v (same-minute fire must roll to the next day)", next, want)
	}
}

func TestNextFields(t *testing.T) {
	from := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		expr string
		want time.Time
	}{
		{"*/15 * * * *", time.Date(2026, 8, 26, 10, 15, 0, 0, time.UTC)},
		{"0 0 1 * *", time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)},
		{"0 9 * * 1-5", time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)},
		{"0 0 * * 0", time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)},
		{"0 0 * * 7", time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)},
		{"0 0 25 12 *", time.Date(2026, 12, 25, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		spec, err := Parse(tt.expr)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tt.expr, err)
		}
		next, err := spec.Next(from)
		if err != nil {
			t.Fatalf("Next(%q): %v", tt.expr, err)
		}
		if !next.Equal(tt.want) {
			t.Errorf("Next(%q) = %v, want %v", tt.expr, next, tt.want)
		}
	}
}

func TestNextBeyondBoundRejected(t *testing.T) {
	// February 30th never exists.
	spec, err := Parse("0 0 30 2 *")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := spec.Next(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)); err == nil {
		t.Error("impossible date accepted")
	}
}

func TestValidateFrequency(t *testing.T) {
	if err := ValidateFrequency("* * * * *", 0); err == nil || !strings.Contains(err.Error(), "fires every") {
		t.Errorf("every-minute cron: err = %v, want \"fires every\"", err)
	}
	if err := ValidateFrequency("", 60_000); err == nil || !strings.Contains(err.Error(), "too short") {
		t.Errorf("60s interval: err = %v, want \"too short\"", err)
	}
	if err := ValidateFrequency("*/5 * * * *", 0); err != nil {
		t.Errorf("five-minute cron rejected: %v", err)
	}
	if err := ValidateFrequency("", 300_000); err != nil {
		t.Errorf("five-minute interval rejected: %v", err)
	}
	if err := ValidateFrequency("*/2 * * * *", 600_000); err == nil {
		t.Error("fast cron with slow interval accepted; arguments must validate independently")
	}
	if err := ValidateFrequency("", 0); err != nil {
		t.Errorf("absent arguments rejected: %v", err)
	}
	if err := ValidateFrequency("bogus", 0); err == nil {
		t.Error("unparseable cron accepted")
	}
}
