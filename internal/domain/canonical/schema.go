package canonical

// Field names shared across entity schemas. Reference fields end in _id and
// hold canonical IDs after resolution.
const (
	FieldName        Field = "name"
	FieldShortName   Field = "short_name"
	FieldCountry     Field = "country"
	FieldSeason      Field = "season"
	FieldLogoURL     Field = "logo_url"
	FieldBadgeURL    Field = "badge_url"
	FieldStadium     Field = "stadium"
	FieldFoundedYear Field = "founded_year"

	FieldPosition    Field = "position"
	FieldNationality Field = "nationality"
	FieldBirthDate   Field = "birth_date"
	FieldShirtNumber Field = "shirt_number"
	FieldPhotoURL    Field = "photo_url"

	FieldKickoffAt Field = "kickoff_at"
	FieldVenue     Field = "venue"
	FieldRound     Field = "round"
	FieldStatus    Field = "status"
	FieldHomeScore Field = "home_score"
	FieldAwayScore Field = "away_score"
	FieldMinute    Field = "minute"

	FieldRank           Field = "rank"
	FieldPlayed         Field = "played"
	FieldWon            Field = "won"
	FieldDrawn          Field = "drawn"
	FieldLost           Field = "lost"
	FieldGoalsFor       Field = "goals_for"
	FieldGoalsAgainst   Field = "goals_against"
	FieldGoalDifference Field = "goal_difference"
	FieldPoints         Field = "points"
	FieldWinPercent     Field = "win_percent"
	FieldCleanSheets    Field = "clean_sheets"

	FieldEventType   Field = "event_type"
	FieldEventMinute Field = "event_minute"
	FieldEventDetail Field = "event_detail"

	FieldLeagueID   Field = "league_id"
	FieldTeamID     Field = "team_id"
	FieldHomeTeamID Field = "home_team_id"
	FieldAwayTeamID Field = "away_team_id"
	FieldFixtureID  Field = "fixture_id"
	FieldPlayerID   Field = "player_id"
)

// Schema describes the mergeable surface of one entity type.
type Schema struct {
	Fields []Field
	// RefFields are resolved to canonical IDs before commit and checked for
	// referential existence by the writer.
	RefFields []Field
	// TimeSensitive fields are eligible for the freshness override.
	TimeSensitive map[Field]struct{}
	// Tolerance is the absolute numeric disagreement tolerated per field
	// before a conflict is recorded. Fields not listed use zero tolerance.
	Tolerance map[Field]float64
}

func (s Schema) IsTimeSensitive(f Field) bool {
	_, ok := s.TimeSensitive[f]
	return ok
}

func (s Schema) ToleranceFor(f Field) float64 {
	return s.Tolerance[f]
}

var schemas = map[EntityType]Schema{
	EntityLeague: {
		Fields: []Field{FieldName, FieldCountry, FieldSeason, FieldLogoURL},
	},
	EntityTeam: {
		Fields: []Field{
			FieldName, FieldShortName, FieldCountry, FieldLogoURL,
			FieldBadgeURL, FieldStadium, FieldFoundedYear,
		},
		RefFields: []Field{FieldLeagueID},
	},
	EntityPlayer: {
		Fields: []Field{
			FieldName, FieldPosition, FieldNationality, FieldBirthDate,
			FieldShirtNumber, FieldPhotoURL,
		},
		RefFields: []Field{FieldTeamID},
	},
	EntityFixture: {
		Fields: []Field{
			FieldKickoffAt, FieldVenue, FieldRound, FieldStatus,
			FieldHomeScore, FieldAwayScore, FieldMinute,
		},
		RefFields: []Field{FieldLeagueID, FieldHomeTeamID, FieldAwayTeamID},
		TimeSensitive: map[Field]struct{}{
			FieldStatus:    {},
			FieldHomeScore: {},
			FieldAwayScore: {},
			FieldMinute:    {},
		},
	},
	EntityStanding: {
		Fields: []Field{
			FieldRank, FieldPlayed, FieldWon, FieldDrawn, FieldLost,
			FieldGoalsFor, FieldGoalsAgainst, FieldGoalDifference,
			FieldPoints, FieldWinPercent, FieldCleanSheets,
		},
		RefFields: []Field{FieldLeagueID, FieldTeamID},
		Tolerance: map[Field]float64{
			FieldWinPercent: 0.5,
		},
	},
	EntityEvent: {
		Fields: []Field{FieldEventType, FieldEventMinute, FieldEventDetail},
		RefFields: []Field{FieldFixtureID, FieldTeamID, FieldPlayerID},
		TimeSensitive: map[Field]struct{}{
			FieldEventMinute: {},
			FieldEventDetail: {},
		},
	},
}

// SchemaFor returns the schema of an entity type. The bool is false for
// unknown types.
func SchemaFor(t EntityType) (Schema, bool) {
	s, ok := schemas[t]
	return s, ok
}

var refTargets = map[Field]EntityType{
	FieldLeagueID:   EntityLeague,
	FieldTeamID:     EntityTeam,
	FieldHomeTeamID: EntityTeam,
	FieldAwayTeamID: EntityTeam,
	FieldFixtureID:  EntityFixture,
	FieldPlayerID:   EntityPlayer,
}

// RefTarget returns the entity type a reference field points at.
func RefTarget(f Field) (EntityType, bool) {
	t, ok := refTargets[f]
	return t, ok
}
