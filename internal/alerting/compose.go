package alerting

import (
	"fmt"
	"strings"
	"time"

	"github.com/smukkama/floodwatch/internal/ensemble"
	"github.com/smukkama/floodwatch/internal/model"
)

// SMSMaxLength is the upper bound of an SMS payload, in characters
const SMSMaxLength = 160

// Instruction is one prioritized action for the public
type Instruction struct {
	Priority int    `json:"priority"`
	Action   string `json:"action"`
	Icon     string `json:"icon"`
}

var instructionSets = map[Severity][]Instruction{
	SeverityCritical: {
		{1, "EVACUATE immediately to higher ground", "🏃"},
		{2, "Call emergency services if trapped", "📞"},
		{3, "Do NOT attempt to cross flooded areas", "🚫"},
		{4, "Move to designated evacuation centers", "🏛️"},
		{5, "Keep emergency supplies ready", "🎒"},
	},
	SeveritySevere: {
		{1, "Prepare for possible evacuation", "🎒"},
		{2, "Move valuables to higher floors", "📦"},
		{3, "Charge all communication devices", "🔋"},
		{4, "Know your evacuation route", "🗺️"},
		{5, "Monitor official updates continuously", "📻"},
	},
	SeverityWarning: {
		{1, "Stay informed through official channels", "📱"},
		{2, "Avoid low-lying areas", "⬆️"},
		{3, "Secure outdoor items", "🔒"},
		{4, "Review family emergency plan", "👨‍👩‍👧‍👦"},
		{5, "Stock essential supplies", "🛒"},
	},
	SeverityWatch: {
		{1, "Monitor weather updates", "🌤️"},
		{2, "Be prepared to act if conditions worsen", "👀"},
		{3, "Check emergency supplies", "✅"},
	},
	SeverityInfo: {
		{1, "Stay aware of changing conditions", "ℹ️"},
		{2, "No immediate action required", "✅"},
	},
}

// Instructions returns a copy of the ordered instructions for a severity.
// Unknown severities get the info set.
func Instructions(s Severity) []Instruction {
	set, ok := instructionSets[s]
	if !ok {
		set = instructionSets[SeverityInfo]
	}
	out := make([]Instruction, len(set))
	copy(out, set)
	return out
}

var severityPrefixes = map[Severity]string{
	SeverityCritical: "🚨 CRITICAL",
	SeveritySevere:   "⛔ SEVERE",
	SeverityWarning:  "⚠️ WARNING",
	SeverityWatch:    "👁️ WATCH",
	SeverityInfo:     "ℹ️ INFO",
}

var typeSuffixes = map[Type]string{
	TypeFlood:         "Flood Alert",
	TypeFlashFlood:    "Flash Flood Alert",
	TypeRiverOverflow: "River Overflow Alert",
	TypeStorm:         "Storm Alert",
	TypeHeavyRainfall: "Heavy Rainfall Alert",
	TypeWaterLevel:    "Water Level Alert",
	TypeEvacuation:    "Evacuation Notice",
}

func title(s Severity, t Type) string {
	prefix, ok := severityPrefixes[s]
	if !ok {
		prefix = "ℹ️"
	}
	suffix, ok := typeSuffixes[t]
	if !ok {
		suffix = "Alert"
	}
	return prefix + " " + suffix
}

func description(conditions []Condition, pred ensemble.EnsembleOutput) string {
	parts := []string{fmt.Sprintf("Flood probability: %.0f%% (Confidence: %.0f%%)",
		pred.FloodProbability*100, pred.Confidence*100)}

	for _, c := range conditions {
		switch c.Condition {
		case ConditionHighFloodProbability:
			parts = append(parts, "ML models indicate elevated flood risk")
		case ConditionAnomalyDetected:
			parts = append(parts, "Unusual patterns detected in environmental data")
		case ConditionHeavyRainfall:
			parts = append(parts, fmt.Sprintf("Heavy rainfall expected: %.0fmm in 24h", c.Value))
		case ConditionEarlyWarnings:
			parts = append(parts, "Early warning indicators triggered")
		}
	}

	if pred.FloodProbability > 0.5 {
		h := pred.PredictionsByHorizon
		switch {
		case h.H6 > 0.7:
			parts = append(parts, "⏱️ Potential impact within 6 hours")
		case h.H12 > 0.7:
			parts = append(parts, "⏱️ Potential impact within 12 hours")
		default:
			parts = append(parts, "⏱️ Monitor for next 24 hours")
		}
	}
	return strings.Join(parts, " | ")
}

func affectedAreas(loc model.Location, spatial ensemble.SpatialResult) []string {
	district := loc.District
	if district == "" {
		district = "Unknown District"
	}
	areas := []string{district}
	if spatial.PropagationProbability > 0.5 {
		areas = append(areas, "Downstream areas from "+district)
	}
	if loc.NearRiver {
		areas = append(areas, "River-adjacent communities")
	}
	return areas
}

// smsPayload renders the per-severity SMS text, at most SMSMaxLength
// characters long.
func smsPayload(s Severity, loc model.Location, probability float64) string {
	district := loc.District
	if district == "" {
		district = "Your Area"
	}
	district = truncateRunes(district, 15)
	pct := int(probability * 100)

	var msg string
	switch s {
	case SeverityCritical:
		msg = fmt.Sprintf("🚨CRITICAL:%s FLOOD ALERT! Risk:%d%%. EVACUATE NOW to high ground. Call 1078 for help.", district, pct)
	case SeveritySevere:
		msg = fmt.Sprintf("⛔SEVERE:%s flood risk %d%%. Prepare evacuation. Monitor updates. Emergency:1078", district, pct)
	case SeverityWarning:
		msg = fmt.Sprintf("⚠️WARNING:%s flood risk %d%%. Stay alert, avoid low areas. Updates:alertaid.in", district, pct)
	case SeverityWatch:
		msg = fmt.Sprintf("👁️WATCH:%s elevated flood risk. Monitor conditions. Stay informed.", district)
	default:
		msg = fmt.Sprintf("ℹ️%s: Normal conditions. Stay prepared.", district)
	}
	return truncateRunes(msg, SMSMaxLength)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// alertID builds "ALERT-<yyyymmddhhmmss>-<first three letters of the
// district, upper case>".
func alertID(ts time.Time, district string) string {
	prefix := "UNK"
	if district != "" {
		prefix = strings.ToUpper(truncateRunes(district, 3))
	}
	return fmt.Sprintf("ALERT-%s-%s", ts.Format("20060102150405"), prefix)
}
