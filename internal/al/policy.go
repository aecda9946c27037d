package al

import (
	"math"
)

// Rule is the numbered selection rule chosen by the caller.
type Rule int

const (
	RuleMaxAleatoric    Rule = 1  // aleatoric, max over objects
	RuleSumAleatoric    Rule = 2  // aleatoric, sum over objects
	RuleObjectCount     Rule = 4  // raw detection count
	RuleEpistemicMC     Rule = 6  // frame-level MC-dropout epistemic only
	RuleWeightedMean    Rule = 7  // eu/au weighted sum, mean reduction
	RuleWeightedSum     Rule = 8  // eu/au weighted sum, sum reduction
	RuleCategoryGated   Rule = 9  // weighted sum after a category-entropy gate
	RuleCategoryEntropy Rule = 10 // category entropy directly
	RuleConfidence      Rule = 11 // confidence in place of aleatoric
	RuleStatGated       Rule = 12 // weighted sum after a statistical-entropy gate
	RuleWeighted        Rule = 13 // eu/au weighted sum, no gate
)

// SupportedRules lists the rules NewPolicy accepts, in ascending order.
func SupportedRules() []int {
	return []int{1, 2, 4, 6, 7, 8, 9, 10, 11, 12, 13}
}

// Reduction collapses one frame's per-object values into a scalar.
type Reduction int

const (
	ReduceMean Reduction = iota
	ReduceMax
	ReduceSum
)

func (r Reduction) String() string {
	switch r {
	case ReduceMax:
		return "max"
	case ReduceSum:
		return "sum"
	default:
		return "mean"
	}
}

// KeyKind names the per-frame scalar that becomes the ranking key.
type KeyKind int

const (
	KeyAleatoric KeyKind = iota
	KeyEpistemic
	KeyWeighted
	KeyCategoryEntropy
	KeyObjectCount
)

// GateKind names the first-stage shortlist applied before final ranking.
type GateKind int

const (
	GateNone GateKind = iota
	GateCategoryEntropy
	GateStatistical
)

// EpistemicSource says which epistemic estimate a rule consumes.
type EpistemicSource int

const (
	EpistemicUnused EpistemicSource = iota
	// EpistemicFromMC reads the frame-scalar dropout estimate (Detection.EpistemicMC).
	EpistemicFromMC
	// EpistemicFromModel reads Detection.Epistemic in whatever shape it arrives.
	EpistemicFromModel
)

// StatWeights weighs the three entropies blended by the rule 12 gate.
type StatWeights struct {
	Category float64 `json:"cate_k"`
	Scale    float64 `json:"scale_k"`
	Rotation float64 `json:"rot_k"`
}

// EntropyBins holds the histogram layout used by the scale and rotation
// entropy estimators.
type EntropyBins struct {
	ScaleMin         float64
	ScaleMax         float64
	ScaleWidth       float64
	RotationWidthDeg float64
}

// DefaultEntropyBins returns the layout used by the query flow: scale
// areas in 5 m² bins over [0, 40] and headings in 60° sectors.
func DefaultEntropyBins() EntropyBins {
	return EntropyBins{
		ScaleMin:         0,
		ScaleMax:         40,
		ScaleWidth:       5,
		RotationWidthDeg: 60,
	}
}

// Params is the caller-facing parameter surface of one query round.
// Zero values are not defaults: use DefaultParams and override fields.
type Params struct {
	ConfidenceThreshold float64
	Rule                int
	EUTheta             float64
	AUTheta             float64
	ScorePlus           bool
	ScoreReverse        bool
	K1                  float64
	Stat                *StatWeights
	Budget              int
	Bins                EntropyBins
}

// DefaultParams returns parameters with every documented default set.
// Budget has no default and must be supplied.
func DefaultParams() Params {
	return Params{
		ConfidenceThreshold: 0.3,
		Rule:                int(RuleMaxAleatoric),
		EUTheta:             1,
		AUTheta:             1,
		K1:                  3,
		Bins:                DefaultEntropyBins(),
	}
}

// Policy is the validated selection policy. It is built once by NewPolicy
// and then consulted by the extractor, aggregator and ranker, which
// switch on its variant fields instead of on the raw rule number.
type Policy struct {
	Rule      Rule
	Threshold float64
	Budget    int

	Reduction Reduction
	Key       KeyKind
	Gate      GateKind
	Epistemic EpistemicSource

	// UseConfidence substitutes confidence scores for aleatoric values.
	UseConfidence bool
	ScorePlus     bool
	ScoreReverse  bool

	EUTheta float64
	AUTheta float64

	// K1 scales the budget into the shortlist size of a gated rule.
	K1   float64
	Stat StatWeights
	Bins EntropyBins
}

// NewPolicy validates p and resolves the rule number into a Policy.
func NewPolicy(p Params) (Policy, error) {
	pol := Policy{
		Rule:         Rule(p.Rule),
		Threshold:    p.ConfidenceThreshold,
		Budget:       p.Budget,
		ScorePlus:    p.ScorePlus,
		ScoreReverse: p.ScoreReverse,
		EUTheta:      p.EUTheta,
		AUTheta:      p.AUTheta,
		K1:           p.K1,
		Bins:         p.Bins,
	}

	switch pol.Rule {
	case RuleMaxAleatoric:
		pol.Reduction, pol.Key = ReduceMax, KeyAleatoric
	case RuleSumAleatoric:
		pol.Reduction, pol.Key = ReduceSum, KeyAleatoric
	case RuleObjectCount:
		pol.Key = KeyObjectCount
	case RuleEpistemicMC:
		pol.Key, pol.Epistemic = KeyEpistemic, EpistemicFromMC
	case RuleWeightedMean, RuleWeighted:
		pol.Key, pol.Epistemic = KeyWeighted, EpistemicFromModel
	case RuleWeightedSum:
		pol.Reduction, pol.Key, pol.Epistemic = ReduceSum, KeyWeighted, EpistemicFromModel
	case RuleCategoryGated:
		pol.Key, pol.Epistemic, pol.Gate = KeyWeighted, EpistemicFromModel, GateCategoryEntropy
	case RuleCategoryEntropy:
		pol.Key = KeyCategoryEntropy
	case RuleConfidence:
		pol.Key, pol.UseConfidence = KeyAleatoric, true
	case RuleStatGated:
		if p.Stat == nil {
			return Policy{}, &MissingParameterError{Rule: pol.Rule, Param: "stat_k"}
		}
		pol.Key, pol.Epistemic, pol.Gate = KeyWeighted, EpistemicFromModel, GateStatistical
		pol.Stat = *p.Stat
	default:
		return Policy{}, &InvalidRuleError{Rule: p.Rule}
	}

	if err := pol.validate(); err != nil {
		return Policy{}, err
	}
	return pol, nil
}

func (p Policy) validate() error {
	if p.Budget <= 0 {
		return invalidParam("budget", "must be positive, got %d", p.Budget)
	}
	if math.IsNaN(p.Threshold) || p.Threshold < 0 || p.Threshold > 1 {
		return invalidParam("confidence_threshold", "must be between 0 and 1, got %v", p.Threshold)
	}
	if p.Gate != GateNone && !(p.K1 > 0) {
		return invalidParam("k1", "must be positive for rule %d, got %v", int(p.Rule), p.K1)
	}
	if p.Key == KeyWeighted {
		if math.IsNaN(p.EUTheta) || math.IsInf(p.EUTheta, 0) {
			return invalidParam("eu_theta", "must be finite, got %v", p.EUTheta)
		}
		if math.IsNaN(p.AUTheta) || math.IsInf(p.AUTheta, 0) {
			return invalidParam("au_theta", "must be finite, got %v", p.AUTheta)
		}
	}
	b := p.Bins
	if !(b.ScaleWidth > 0) || !(b.ScaleMax > b.ScaleMin) {
		return invalidParam("scale bins", "need width > 0 and max > min, got width=%v range=[%v, %v]", b.ScaleWidth, b.ScaleMin, b.ScaleMax)
	}
	if !(b.RotationWidthDeg > 0) || b.RotationWidthDeg > 360 {
		return invalidParam("rotation_bin_width_deg", "must be in (0, 360], got %v", b.RotationWidthDeg)
	}
	return nil
}

// ShortlistSize returns floor(K1 * Budget), the number of frames a gated
// rule keeps after its first stage.
func (p Policy) ShortlistSize() int {
	return int(math.Floor(p.K1 * float64(p.Budget)))
}

// UsesEpistemic reports whether the rule reads any epistemic estimate.
func (p Policy) UsesEpistemic() bool {
	return p.Epistemic != EpistemicUnused
}
