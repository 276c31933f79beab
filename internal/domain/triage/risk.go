// Package triage classifies CAPD patients by fluid-overload percentage.
// The thresholds and the recommended dialysis-solution bands follow the
// clinic's triage protocol: 40% marks the emergency cutoff, with higher
// brackets at 50% and 70%.
package triage

// Solution identifies a PD solution bag by color code and dextrose
// concentration.
type Solution struct {
	Label         string `json:"label"`
	Concentration string `json:"concentration"`
}

// Assessment is the result of evaluating a patient's fluid-overload
// percentage.
type Assessment struct {
	Percentage    float64  `json:"percentage"`
	IsEmergency   bool     `json:"is_emergency"`
	Priority      int      `json:"priority"`
	PriorityLabel string   `json:"priority_label"`
	AdvisoryNote  string   `json:"advisory_note"`
	Solution      Solution `json:"recommended_solution"`
}

// Solution codes in ascending strength.
var (
	SolutionYellow = Solution{Label: "YELLOW(1.5%)", Concentration: "1.5%"}
	SolutionGreen  = Solution{Label: "GREEN(2.5%)", Concentration: "2.5%"}
	SolutionRed    = Solution{Label: "RED(4.25%)", Concentration: "4.25%"}
)

// Priority labels keyed to the priority score, not the raw percentage.
const (
	LabelCritical = "Critical"
	LabelHigh     = "High"
	LabelMedium   = "Medium"
	LabelNormal   = "Normal"
)

// UnavailableNote annotates entries whose clinical lookup failed.
const UnavailableNote = "Data temporarily unavailable"

// Evaluate maps a fluid-overload percentage to an emergency
// classification, priority score, advisory note, and recommended PD
// solution. Negative input is treated as 0. The 40-49 and 50-69 bands
// intentionally share the GREEN(2.5%) solution code while carrying
// different advisory rationale.
func Evaluate(percentage float64) Assessment {
	if percentage < 0 {
		percentage = 0
	}

	a := Assessment{Percentage: percentage}

	switch {
	case percentage >= 70:
		a.Priority = 15
		a.AdvisoryNote = "Critical fluid overload. Immediate attention required."
		a.Solution = SolutionRed
	case percentage >= 50:
		a.Priority = 10
		a.AdvisoryNote = "High fluid overload. Priority consultation advised."
		a.Solution = SolutionGreen
	case percentage >= 40:
		a.Priority = 5
		a.AdvisoryNote = "Moderate fluid overload. Requires attention."
		a.Solution = SolutionGreen
	default:
		a.Priority = 0
		a.AdvisoryNote = "Fluid status normal. Routine consultation."
		a.Solution = SolutionYellow
	}

	a.IsEmergency = percentage >= 40
	a.PriorityLabel = labelForPriority(a.Priority)
	return a
}

// Unavailable returns the degraded assessment used when the clinical
// metric could not be fetched: the entry defaults to Normal and the
// refresh continues for all other entries.
func Unavailable() Assessment {
	a := Evaluate(0)
	a.AdvisoryNote = UnavailableNote
	return a
}

func labelForPriority(priority int) string {
	switch {
	case priority >= 15:
		return LabelCritical
	case priority >= 10:
		return LabelHigh
	case priority >= 5:
		return LabelMedium
	default:
		return LabelNormal
	}
}
