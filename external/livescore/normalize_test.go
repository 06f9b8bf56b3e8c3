package livescore

import (
	"testing"
	"time"

	"github.com/riskibarqy/matchsync/internal/domain/canonical"
)

func seoulClient(t *testing.T) *Client {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return NewClient(nil, nil, loc, nil)
}

func TestNormalizeMatch_LocalKickoffToUTC(t *testing.T) {
	t.Parallel()

	c := seoulClient(t)
	rec, ok := c.normalizeMatch(map[string]any{
		"id":             "m-1001",
		"date":           "2025-08-30",
		"time":           "19:30",
		"status":         "LIVE",
		"minute":         "45+2",
		"competition_id": "kleague2",
		"home":           map[string]any{"id": "E-Land"},
		"away":           map[string]any{"id": "Ansan"},
		"home_score":     "1",
		"away_score":     "0",
	}, time.Now())
	if !ok {
		t.Fatal("normalize failed")
	}

	// 19:30 KST is 10:30 UTC.
	kickoff := rec.Fields[canonical.FieldKickoffAt].Time
	want := time.Date(2025, 8, 30, 10, 30, 0, 0, time.UTC)
	if !kickoff.Equal(want) {
		t.Fatalf("kickoff = %v, want %v", kickoff, want)
	}
	if rec.Fields[canonical.FieldMinute].Num != 47 {
		t.Fatalf("minute = %+v, want 45+2 folded", rec.Fields[canonical.FieldMinute])
	}
	if rec.Fields[canonical.FieldHomeScore].Num != 1 {
		t.Fatalf("home score = %+v, want string score coerced", rec.Fields[canonical.FieldHomeScore])
	}
	if rec.NativeRefs[canonical.FieldHomeTeamID] != "E-Land" {
		t.Fatalf("refs = %v, opaque ids must pass through", rec.NativeRefs)
	}
}

func TestNormalizeMatch_MissingKickoffStaysAbsent(t *testing.T) {
	t.Parallel()

	c := seoulClient(t)
	rec, ok := c.normalizeMatch(map[string]any{
		"id":   "m-1002",
		"home": map[string]any{"id": "a"},
		"away": map[string]any{"id": "b"},
	}, time.Now())
	if !ok {
		t.Fatal("normalize failed")
	}
	if _, present := rec.Fields[canonical.FieldKickoffAt]; present {
		t.Fatal("kickoff must stay absent without date and time")
	}
	if _, present := rec.Fields[canonical.FieldHomeScore]; present {
		t.Fatal("score must stay absent, never default to zero")
	}
}

func TestNormalizeIncident(t *testing.T) {
	t.Parallel()

	c := seoulClient(t)
	rec, ok := c.normalizeIncident(map[string]any{
		"match_id":  "m-1001",
		"team_id":   "E-Land",
		"player_id": "p-77",
		"minute":    "90+4",
		"type":      "goal",
		"detail":    "penalty",
	}, time.Now())
	if !ok {
		t.Fatal("normalize failed")
	}
	if rec.Fields[canonical.FieldEventMinute].Num != 94 {
		t.Fatalf("minute = %+v", rec.Fields[canonical.FieldEventMinute])
	}
	if rec.NativeRefs[canonical.FieldPlayerID] != "p-77" {
		t.Fatalf("refs = %v", rec.NativeRefs)
	}
}

func TestParseMinute(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"45", 45, true},
		{"45+2", 47, true},
		{"90+4", 94, true},
		{"45'", 45, true},
		{"", 0, false},
		{"HT", 0, false},
		{"-3", 0, false},
	}
	for _, tc := range cases {
		got, ok := parseMinute(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("parseMinute(%q) = (%v, %v), want (%v, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
