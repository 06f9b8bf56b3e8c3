package thesportsdb

import (
	"strconv"
	"strings"
	"time"

	"github.com/riskibarqy/matchsync/internal/domain/canonical"
	"github.com/riskibarqy/matchsync/internal/domain/provider"
)

// All payload values are strings ("idTeam": "133612", "intPoints": "9",
// "strWinPct": "55%"); coercion happens here and nowhere downstream.

func normalizeLeague(item map[string]string, retrievedAt time.Time) (provider.Record, bool) {
	id := item["idLeague"]
	name := item["strLeague"]
	if id == "" || name == "" {
		return provider.Record{}, false
	}

	rec := newRecord(canonical.EntityLeague, id, name, retrievedAt)
	rec.Set(canonical.FieldName, canonical.StringValue(name))
	setString(&rec, canonical.FieldCountry, item["strCountry"])
	setString(&rec, canonical.FieldSeason, item["strCurrentSeason"])
	setString(&rec, canonical.FieldLogoURL, item["strBadge"])
	return rec, true
}

func normalizeTeam(item map[string]string, retrievedAt time.Time) (provider.Record, bool) {
	id := item["idTeam"]
	name := item["strTeam"]
	if id == "" || name == "" {
		return provider.Record{}, false
	}

	rec := newRecord(canonical.EntityTeam, id, name, retrievedAt)
	rec.Set(canonical.FieldName, canonical.StringValue(name))
	setString(&rec, canonical.FieldShortName, item["strTeamShort"])
	setString(&rec, canonical.FieldCountry, item["strCountry"])
	setString(&rec, canonical.FieldLogoURL, item["strLogo"])
	setString(&rec, canonical.FieldBadgeURL, item["strBadge"])
	setString(&rec, canonical.FieldStadium, item["strStadium"])
	setNumber(&rec, canonical.FieldFoundedYear, item["intFormedYear"])

	if leagueID := item["idLeague"]; leagueID != "" {
		rec.SetRef(canonical.FieldLeagueID, leagueID)
	}
	return rec, true
}

func normalizePlayer(item map[string]string, retrievedAt time.Time) (provider.Record, bool) {
	id := item["idPlayer"]
	name := item["strPlayer"]
	if id == "" || name == "" {
		return provider.Record{}, false
	}

	rec := newRecord(canonical.EntityPlayer, id, name, retrievedAt)
	rec.Set(canonical.FieldName, canonical.StringValue(name))
	setString(&rec, canonical.FieldPosition, item["strPosition"])
	setString(&rec, canonical.FieldNationality, item["strNationality"])
	setString(&rec, canonical.FieldBirthDate, item["dateBorn"])
	setString(&rec, canonical.FieldPhotoURL, item["strCutout"])
	setNumber(&rec, canonical.FieldShirtNumber, item["strNumber"])

	if teamID := item["idTeam"]; teamID != "" {
		rec.SetRef(canonical.FieldTeamID, teamID)
	}
	return rec, true
}

func normalizeStanding(item map[string]string, retrievedAt time.Time) (provider.Record, bool) {
	leagueID := item["idLeague"]
	teamID := item["idTeam"]
	if leagueID == "" || teamID == "" {
		return provider.Record{}, false
	}

	rec := newRecord(canonical.EntityStanding, leagueID+"-"+teamID, "", retrievedAt)
	rec.SetRef(canonical.FieldLeagueID, leagueID)
	rec.SetRef(canonical.FieldTeamID, teamID)

	setNumber(&rec, canonical.FieldRank, item["intRank"])
	setNumber(&rec, canonical.FieldPlayed, item["intPlayed"])
	setNumber(&rec, canonical.FieldWon, item["intWin"])
	setNumber(&rec, canonical.FieldDrawn, item["intDraw"])
	setNumber(&rec, canonical.FieldLost, item["intLoss"])
	setNumber(&rec, canonical.FieldGoalsFor, item["intGoalsFor"])
	setNumber(&rec, canonical.FieldGoalsAgainst, item["intGoalsAgainst"])
	setNumber(&rec, canonical.FieldGoalDifference, item["intGoalDifference"])
	setNumber(&rec, canonical.FieldPoints, item["intPoints"])
	setPercent(&rec, canonical.FieldWinPercent, item["strWinPct"])

	applyCleanSheets(&rec, item)
	return rec, true
}

// applyCleanSheets uses the reported count when present. When the provider
// omits it but reports zero goals conceded over a played season, every match
// was a clean sheet; that inference is flagged as derived so merge ranks it
// below any provider-reported count.
func applyCleanSheets(rec *provider.Record, item map[string]string) {
	if reported, ok := numFrom(item["intCleanSheets"]); ok {
		rec.Set(canonical.FieldCleanSheets, canonical.NumberValue(reported))
		return
	}
	against, ok := numFrom(item["intGoalsAgainst"])
	if !ok || against != 0 {
		return
	}
	played, ok := numFrom(item["intPlayed"])
	if !ok || played <= 0 {
		return
	}
	rec.Set(canonical.FieldCleanSheets, canonical.NumberValue(played).AsDerived())
}

func newRecord(t canonical.EntityType, nativeID, name string, retrievedAt time.Time) provider.Record {
	return provider.Record{
		Provider:    provider.TheSportsDB,
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

func setNumber(rec *provider.Record, f canonical.Field, v string) {
	if n, ok := numFrom(v); ok {
		rec.Set(f, canonical.NumberValue(n))
	}
}

func setPercent(rec *provider.Record, f canonical.Field, v string) {
	if n, ok := percentFrom(v); ok {
		rec.Set(f, canonical.NumberValue(n))
	}
}

func numFrom(v string) (float64, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// percentFrom coerces the provider's "55%" style values to plain numbers.
func percentFrom(v string) (float64, bool) {
	return numFrom(strings.TrimSuffix(strings.TrimSpace(v), "%"))
}
