package livescore

import (
	"strconv"
	"strings"
	"time"

	"github.com/riskibarqy/matchsync/internal/domain/canonical"
	"github.com/riskibarqy/matchsync/internal/domain/provider"
)

func (c *Client) normalizeLeague(item map[string]any, retrievedAt time.Time) (provider.Record, bool) {
	id := str(item["id"])
	name := str(item["name"])
	if id == "" || name == "" {
		return provider.Record{}, false
	}

	rec := newRecord(canonical.EntityLeague, id, name, retrievedAt)
	rec.Set(canonical.FieldName, canonical.StringValue(name))
	setString(&rec, canonical.FieldCountry, str(item["country"]))
	return rec, true
}

func (c *Client) normalizeTeam(item map[string]any, retrievedAt time.Time) (provider.Record, bool) {
	id := str(item["id"])
	name := str(item["name"])
	if id == "" || name == "" {
		return provider.Record{}, false
	}

	rec := newRecord(canonical.EntityTeam, id, name, retrievedAt)
	rec.Set(canonical.FieldName, canonical.StringValue(name))
	if leagueID := str(item["competition_id"]); leagueID != "" {
		rec.SetRef(canonical.FieldLeagueID, leagueID)
	}
	return rec, true
}

func (c *Client) normalizeMatch(item map[string]any, retrievedAt time.Time) (provider.Record, bool) {
	id := str(item["id"])
	homeID := str(asMap(item["home"])["id"])
	awayID := str(asMap(item["away"])["id"])
	if id == "" || homeID == "" || awayID == "" {
		return provider.Record{}, false
	}

	rec := newRecord(canonical.EntityFixture, id, "", retrievedAt)
	rec.SetRef(canonical.FieldHomeTeamID, homeID)
	rec.SetRef(canonical.FieldAwayTeamID, awayID)
	if leagueID := str(item["competition_id"]); leagueID != "" {
		rec.SetRef(canonical.FieldLeagueID, leagueID)
	}

	if kickoff, ok := c.parseKickoff(str(item["date"]), str(item["time"])); ok {
		rec.Set(canonical.FieldKickoffAt, canonical.TimeValue(kickoff))
	}
	setString(&rec, canonical.FieldStatus, str(item["status"]))
	setScore(&rec, canonical.FieldHomeScore, item["home_score"])
	setScore(&rec, canonical.FieldAwayScore, item["away_score"])
	if minute, ok := parseMinute(str(item["minute"])); ok {
		rec.Set(canonical.FieldMinute, canonical.NumberValue(minute))
	}
	return rec, true
}

func (c *Client) normalizeIncident(item map[string]any, retrievedAt time.Time) (provider.Record, bool) {
	matchID := str(item["match_id"])
	teamID := str(item["team_id"])
	kind := str(item["type"])
	if matchID == "" || teamID == "" || kind == "" {
		return provider.Record{}, false
	}

	minute, ok := parseMinute(str(item["minute"]))
	if !ok {
		return provider.Record{}, false
	}

	nativeID := matchID + "-" + teamID + "-" + str(item["minute"]) + "-" + kind
	rec := newRecord(canonical.EntityEvent, nativeID, "", retrievedAt)
	rec.SetRef(canonical.FieldFixtureID, matchID)
	rec.SetRef(canonical.FieldTeamID, teamID)
	if playerID := str(item["player_id"]); playerID != "" {
		rec.SetRef(canonical.FieldPlayerID, playerID)
	}

	rec.Set(canonical.FieldEventType, canonical.StringValue(kind))
	rec.Set(canonical.FieldEventMinute, canonical.NumberValue(minute))
	setString(&rec, canonical.FieldEventDetail, str(item["detail"]))
	return rec, true
}

// parseKickoff combines the provider's local "2006-01-02" date and "HH:MM"
// time into a UTC instant.
func (c *Client) parseKickoff(date, clock string) (time.Time, bool) {
	if date == "" || clock == "" {
		return time.Time{}, false
	}
	local, err := time.ParseInLocation("2006-01-02 15:04", date+" "+clock, c.loc)
	if err != nil {
		return time.Time{}, false
	}
	return local.UTC(), true
}

// parseMinute reads the provider's "45+2" stoppage notation as a plain
// minute count.
func parseMinute(v string) (float64, bool) {
	v = strings.TrimSpace(strings.TrimSuffix(v, "'"))
	if v == "" {
		return 0, false
	}

	base, extra := v, ""
	if idx := strings.IndexByte(v, '+'); idx >= 0 {
		base, extra = v[:idx], v[idx+1:]
	}

	minutes, err := strconv.Atoi(strings.TrimSpace(base))
	if err != nil || minutes < 0 {
		return 0, false
	}
	if extra != "" {
		added, err := strconv.Atoi(strings.TrimSpace(extra))
		if err != nil || added < 0 {
			return 0, false
		}
		minutes += added
	}
	return float64(minutes), true
}

func newRecord(t canonical.EntityType, nativeID, name string, retrievedAt time.Time) provider.Record {
	return provider.Record{
		Provider:    provider.LiveScore,
		NativeID:    nativeID,
		EntityType:  t,
		Name:        name,
		RetrievedAt: retrievedAt,
	}
}

func setString(rec *provider.Record, f canonical.Field, v string) {
	if strings.TrimSpace(v) != "" {
		rec.Set(f, canonical.StringValue(v))
	}
}

// setScore accepts both string-encoded and numeric score values; absent and
// empty stay absent.
func setScore(rec *provider.Record, f canonical.Field, v any) {
	switch n := v.(type) {
	case float64:
		rec.Set(f, canonical.NumberValue(n))
	case string:
		if trimmed := strings.TrimSpace(n); trimmed != "" {
			if parsed, err := strconv.ParseFloat(trimmed, 64); err == nil {
				rec.Set(f, canonical.NumberValue(parsed))
			}
		}
	}
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
