package alarm

// Severity is a normalized alert severity level.
type Severity string

const (
	SeveritySecurity      Severity = "security"
	SeverityCritical      Severity = "critical"
	SeverityHigh          Severity = "high"
	SeverityMedium        Severity = "medium"
	SeverityMajor         Severity = "major"
	SeverityMinor         Severity = "minor"
	SeverityWarning       Severity = "warning"
	SeverityIndeterminate Severity = "indeterminate"
	SeverityInformational Severity = "informational"
	SeverityNormal        Severity = "normal"
	SeverityOk            Severity = "ok"
	SeverityCleared       Severity = "cleared"
	SeverityDebug         Severity = "debug"
	SeverityTrace         Severity = "trace"
	SeverityUnknown       Severity = "unknown"
)

// severityRank orders severities from most severe (lowest rank) to least.
var severityRank = map[Severity]int{
	SeveritySecurity:      0,
	SeverityCritical:      1,
	SeverityHigh:          2,
	SeverityMedium:        3,
	SeverityMajor:         4,
	SeverityMinor:         5,
	SeverityWarning:       6,
	SeverityIndeterminate: 7,
	SeverityInformational: 8,
	SeverityNormal:        9,
	SeverityOk:            10,
	SeverityCleared:       11,
	SeverityDebug:         12,
	SeverityTrace:         13,
	SeverityUnknown:       14,
}

// DefaultNormalSeverity is the severity that indicates a resolved condition.
const DefaultNormalSeverity = SeverityNormal

// DefaultPreviousSeverity is assumed when an alert has no recorded previous severity.
const DefaultPreviousSeverity = SeverityIndeterminate

// Rank returns the numeric rank of a severity. Lower is more severe.
// Unknown severities rank lowest priority.
func Rank(s Severity) int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return severityRank[SeverityUnknown]
}

// IsValid reports whether s is one of the known severity levels.
func IsValid(s Severity) bool {
	_, ok := severityRank[s]
	return ok
}

// ValidSeverities returns all known severities ordered from most to least severe.
func ValidSeverities() []Severity {
	out := make([]Severity, len(severityRank))
	for s, r := range severityRank {
		out[r] = s
	}
	return out
}

// Trend is the direction a severity change moved in.
type Trend string

const (
	TrendMoreSevere Trend = "moreSevere"
	TrendLessSevere Trend = "lessSevere"
	TrendNoChange   Trend = "noChange"
)

// TrendOf compares a previous and current severity. Unrecognized severities
// produce no change.
func TrendOf(previous, current Severity) Trend {
	prevRank, prevOK := severityRank[previous]
	currRank, currOK := severityRank[current]
	if !prevOK || !currOK {
		return TrendNoChange
	}
	switch {
	case prevRank > currRank:
		return TrendMoreSevere
	case prevRank < currRank:
		return TrendLessSevere
	default:
		return TrendNoChange
	}
}
