package apifootball

import (
	"fmt"
	"strconv"
	"time"

	"github.com/riskibarqy/matchsync/internal/domain/canonical"
	"github.com/riskibarqy/matchsync/internal/domain/provider"
)

// Normalization is pure: payload item in, ProviderRecord out. Absent payload
// fields stay absent from the record, never defaulted.

func normalizeLeague(item map[string]any, retrievedAt time.Time) (provider.Record, bool) {
	league := asMap(item["league"])
	id := int64From(league["id"])
	name := str(league["name"])
	if id <= 0 || name == "" {
		return provider.Record{}, false
	}

	rec := newRecord(canonical.EntityLeague, strconv.FormatInt(id, 10), name, retrievedAt)
	rec.Set(canonical.FieldName, canonical.StringValue(name))
	setString(&rec, canonical.FieldLogoURL, str(league["logo"]))
	setString(&rec, canonical.FieldCountry, str(asMap(item["country"])["name"]))

	for _, raw := range asSlice(item["seasons"]) {
		season := asMap(raw)
		if isTrue(season["current"]) {
			if year := int64From(season["year"]); year > 0 {
				rec.Set(canonical.FieldSeason, canonical.StringValue(strconv.FormatInt(year, 10)))
			}
			break
		}
	}
	return rec, true
}

func normalizeTeam(item map[string]any, retrievedAt time.Time) (provider.Record, bool) {
	team := asMap(item["team"])
	id := int64From(team["id"])
	name := str(team["name"])
	if id <= 0 || name == "" {
		return provider.Record{}, false
	}

	rec := newRecord(canonical.EntityTeam, strconv.FormatInt(id, 10), name, retrievedAt)
	rec.Set(canonical.FieldName, canonical.StringValue(name))
	setString(&rec, canonical.FieldShortName, str(team["code"]))
	setString(&rec, canonical.FieldCountry, str(team["country"]))
	setString(&rec, canonical.FieldLogoURL, str(team["logo"]))
	setNumber(&rec, canonical.FieldFoundedYear, team["founded"])
	setString(&rec, canonical.FieldStadium, str(asMap(item["venue"])["name"]))

	if leagueID := int64From(asMap(item["league"])["id"]); leagueID > 0 {
		rec.SetRef(canonical.FieldLeagueID, strconv.FormatInt(leagueID, 10))
	}
	return rec, true
}

func normalizePlayer(item map[string]any, retrievedAt time.Time) (provider.Record, bool) {
	player := asMap(item["player"])
	id := int64From(player["id"])
	name := str(player["name"])
	if id <= 0 || name == "" {
		return provider.Record{}, false
	}

	rec := newRecord(canonical.EntityPlayer, strconv.FormatInt(id, 10), name, retrievedAt)
	rec.Set(canonical.FieldName, canonical.StringValue(name))
	setString(&rec, canonical.FieldNationality, str(player["nationality"]))
	setString(&rec, canonical.FieldPhotoURL, str(player["photo"]))
	setString(&rec, canonical.FieldBirthDate, str(asMap(player["birth"])["date"]))

	for _, raw := range asSlice(item["statistics"]) {
		stat := asMap(raw)
		games := asMap(stat["games"])
		setString(&rec, canonical.FieldPosition, str(games["position"]))
		setNumber(&rec, canonical.FieldShirtNumber, games["number"])
		if teamID := int64From(asMap(stat["team"])["id"]); teamID > 0 {
			rec.SetRef(canonical.FieldTeamID, strconv.FormatInt(teamID, 10))
		}
		break
	}
	return rec, true
}

func normalizeFixture(item map[string]any, retrievedAt time.Time) (provider.Record, bool) {
	fixture := asMap(item["fixture"])
	id := int64From(fixture["id"])
	if id <= 0 {
		return provider.Record{}, false
	}

	rec := newRecord(canonical.EntityFixture, strconv.FormatInt(id, 10), "", retrievedAt)
	if kickoff, err := time.Parse(time.RFC3339, str(fixture["date"])); err == nil {
		rec.Set(canonical.FieldKickoffAt, canonical.TimeValue(kickoff.UTC()))
	}
	setString(&rec, canonical.FieldVenue, str(asMap(fixture["venue"])["name"]))

	status := asMap(fixture["status"])
	setString(&rec, canonical.FieldStatus, str(status["short"]))
	setNumber(&rec, canonical.FieldMinute, status["elapsed"])

	league := asMap(item["league"])
	setString(&rec, canonical.FieldRound, str(league["round"]))
	if leagueID := int64From(league["id"]); leagueID > 0 {
		rec.SetRef(canonical.FieldLeagueID, strconv.FormatInt(leagueID, 10))
	}

	teams := asMap(item["teams"])
	homeID := int64From(asMap(teams["home"])["id"])
	awayID := int64From(asMap(teams["away"])["id"])
	if homeID <= 0 || awayID <= 0 {
		return provider.Record{}, false
	}
	rec.SetRef(canonical.FieldHomeTeamID, strconv.FormatInt(homeID, 10))
	rec.SetRef(canonical.FieldAwayTeamID, strconv.FormatInt(awayID, 10))

	goals := asMap(item["goals"])
	setNumber(&rec, canonical.FieldHomeScore, goals["home"])
	setNumber(&rec, canonical.FieldAwayScore, goals["away"])
	return rec, true
}

func normalizeStanding(item map[string]any, retrievedAt time.Time) (provider.Record, bool) {
	leagueID := int64From(asMap(item["league"])["id"])
	teamID := int64From(asMap(item["team"])["id"])
	if leagueID <= 0 || teamID <= 0 {
		return provider.Record{}, false
	}

	nativeID := fmt.Sprintf("%d-%d", leagueID, teamID)
	rec := newRecord(canonical.EntityStanding, nativeID, "", retrievedAt)
	rec.SetRef(canonical.FieldLeagueID, strconv.FormatInt(leagueID, 10))
	rec.SetRef(canonical.FieldTeamID, strconv.FormatInt(teamID, 10))

	setNumber(&rec, canonical.FieldRank, item["rank"])
	setNumber(&rec, canonical.FieldPoints, item["points"])
	setNumber(&rec, canonical.FieldGoalDifference, item["goalsDiff"])

	all := asMap(item["all"])
	setNumber(&rec, canonical.FieldPlayed, all["played"])
	setNumber(&rec, canonical.FieldWon, all["win"])
	setNumber(&rec, canonical.FieldDrawn, all["draw"])
	setNumber(&rec, canonical.FieldLost, all["lose"])

	goals := asMap(all["goals"])
	setNumber(&rec, canonical.FieldGoalsFor, goals["for"])
	setNumber(&rec, canonical.FieldGoalsAgainst, goals["against"])
	return rec, true
}

func normalizeEvent(item map[string]any, retrievedAt time.Time) (provider.Record, bool) {
	fixtureID := int64From(asMap(item["fixture"])["id"])
	teamID := int64From(asMap(item["team"])["id"])
	kind := str(item["type"])
	if fixtureID <= 0 || teamID <= 0 || kind == "" {
		return provider.Record{}, false
	}

	elapsed := int64From(asMap(item["time"])["elapsed"])
	extra := int64From(asMap(item["time"])["extra"])
	minute := elapsed + extra

	nativeID := fmt.Sprintf("%d-%d-%d-%s", fixtureID, teamID, minute, kind)
	rec := newRecord(canonical.EntityEvent, nativeID, "", retrievedAt)
	rec.SetRef(canonical.FieldFixtureID, strconv.FormatInt(fixtureID, 10))
	rec.SetRef(canonical.FieldTeamID, strconv.FormatInt(teamID, 10))
	if playerID := int64From(asMap(item["player"])["id"]); playerID > 0 {
		rec.SetRef(canonical.FieldPlayerID, strconv.FormatInt(playerID, 10))
	}

	rec.Set(canonical.FieldEventType, canonical.StringValue(kind))
	rec.Set(canonical.FieldEventMinute, canonical.NumberValue(float64(minute)))
	setString(&rec, canonical.FieldEventDetail, str(item["detail"]))
	return rec, true
}

func newRecord(t canonical.EntityType, nativeID, name string, retrievedAt time.Time) provider.Record {
	return provider.Record{
		Provider:    provider.APIFootball,
		NativeID:    nativeID,
		EntityType:  t,
		Name:        name,
		RetrievedAt: retrievedAt,
	}
}

func setString(rec *provider.Record, f canonical.Field, v string) {
	if v != "" {
		rec.Set(f, canonical.StringValue(v))
	}
}

// setNumber sets the field only when the payload carried a numeric value;
// null and missing keys stay absent.
func setNumber(rec *provider.Record, f canonical.Field, v any) {
	if n, ok := numFrom(v); ok {
		rec.Set(f, canonical.NumberValue(n))
	}
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func numFrom(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func int64From(v any) int64 {
	n, ok := numFrom(v)
	if !ok {
		return 0
	}
	return int64(n)
}

func isTrue(v any) bool {
	b, _ := v.(bool)
	return b
}
