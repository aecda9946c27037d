package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/alquery/internal/al"
)

// DefaultConfigPath is the default location of the query defaults file,
// relative to the repository root.
const DefaultConfigPath = "config/query.defaults.json"

// QueryConfig is the JSON configuration of a query round. Every field is a
// pointer so an absent key can be told apart from a zero value; the Get*
// methods fill in defaults.
type QueryConfig struct {
	// Selection policy
	ConfidenceThreshold *float64        `json:"confidence_threshold,omitempty"`
	Rule                *int            `json:"rule,omitempty"`
	EUTheta             *float64        `json:"eu_theta,omitempty"`
	AUTheta             *float64        `json:"au_theta,omitempty"`
	ScorePlus           *bool           `json:"score_plus,omitempty"`
	ScoreReverse        *bool           `json:"score_reverse,omitempty"`
	K1                  *float64        `json:"k1,omitempty"`
	StatK               *al.StatWeights `json:"stat_k,omitempty"`
	Budget              *int            `json:"budget,omitempty"`

	// Entropy histogram layout
	ScaleMin            *float64 `json:"scale_min,omitempty"`
	ScaleMax            *float64 `json:"scale_max,omitempty"`
	ScaleBinWidth       *float64 `json:"scale_bin_width,omitempty"`
	RotationBinWidthDeg *float64 `json:"rotation_bin_width_deg,omitempty"`

	// Output pools
	ShufflePools *bool  `json:"shuffle_pools,omitempty"`
	ShuffleSeed  *int64 `json:"shuffle_seed,omitempty"`

	// Inference service
	InferenceAddr      *string `json:"inference_addr,omitempty"`
	InferenceTimeout   *string `json:"inference_timeout,omitempty"` // duration string like "30s"
	InferenceBatchSize *int    `json:"inference_batch_size,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyQueryConfig returns a config with every field unset.
func EmptyQueryConfig() *QueryConfig {
	return &QueryConfig{}
}

// LoadQueryConfig reads and validates a JSON config file.
func LoadQueryConfig(path string) (*QueryConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyQueryConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching upwards so tests
// in nested packages find it. It panics when the file cannot be found.
func MustLoadDefaultConfig() *QueryConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadQueryConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the fields that are set. Rule-specific requirements are
// checked later by al.NewPolicy.
func (c *QueryConfig) Validate() error {
	if c.ConfidenceThreshold != nil {
		if *c.ConfidenceThreshold < 0 || *c.ConfidenceThreshold > 1 {
			return invalid("confidence_threshold", "must be between 0 and 1, got %f", *c.ConfidenceThreshold)
		}
	}
	if c.Budget != nil && *c.Budget <= 0 {
		return invalid("budget", "must be positive, got %d", *c.Budget)
	}
	if c.K1 != nil && *c.K1 <= 0 {
		return invalid("k1", "must be positive, got %f", *c.K1)
	}
	if c.ScaleBinWidth != nil && *c.ScaleBinWidth <= 0 {
		return invalid("scale_bin_width", "must be positive, got %f", *c.ScaleBinWidth)
	}
	if c.GetScaleMax() <= c.GetScaleMin() {
		return invalid("scale_max", "%f must exceed scale_min %f", c.GetScaleMax(), c.GetScaleMin())
	}
	if c.RotationBinWidthDeg != nil {
		if *c.RotationBinWidthDeg <= 0 || *c.RotationBinWidthDeg > 360 {
			return invalid("rotation_bin_width_deg", "must be in (0, 360], got %f", *c.RotationBinWidthDeg)
		}
	}
	if c.InferenceTimeout != nil && *c.InferenceTimeout != "" {
		if _, err := time.ParseDuration(*c.InferenceTimeout); err != nil {
			return invalid("inference_timeout", "%q: %v", *c.InferenceTimeout, err)
		}
	}
	if c.InferenceBatchSize != nil && *c.InferenceBatchSize <= 0 {
		return invalid("inference_batch_size", "must be positive, got %d", *c.InferenceBatchSize)
	}
	return nil
}

func invalid(param, format string, args ...interface{}) error {
	return &al.InvalidParameterError{Param: param, Reason: fmt.Sprintf(format, args...)}
}

func (c *QueryConfig) GetConfidenceThreshold() float64 {
	if c.ConfidenceThreshold == nil {
		return 0.3
	}
	return *c.ConfidenceThreshold
}

func (c *QueryConfig) GetRule() int {
	if c.Rule == nil {
		return int(al.RuleMaxAleatoric)
	}
	return *c.Rule
}

func (c *QueryConfig) GetEUTheta() float64 {
	if c.EUTheta == nil {
		return 1
	}
	return *c.EUTheta
}

func (c *QueryConfig) GetAUTheta() float64 {
	if c.AUTheta == nil {
		return 1
	}
	return *c.AUTheta
}

func (c *QueryConfig) GetScorePlus() bool {
	return c.ScorePlus != nil && *c.ScorePlus
}

func (c *QueryConfig) GetScoreReverse() bool {
	return c.ScoreReverse != nil && *c.ScoreReverse
}

func (c *QueryConfig) GetK1() float64 {
	if c.K1 == nil {
		return 3
	}
	return *c.K1
}

// GetBudget returns the acquisition budget, or 0 when unset. A zero
// budget is rejected by al.NewPolicy.
func (c *QueryConfig) GetBudget() int {
	if c.Budget == nil {
		return 0
	}
	return *c.Budget
}

func (c *QueryConfig) GetScaleMin() float64 {
	if c.ScaleMin == nil {
		return 0
	}
	return *c.ScaleMin
}

func (c *QueryConfig) GetScaleMax() float64 {
	if c.ScaleMax == nil {
		return 40
	}
	return *c.ScaleMax
}

func (c *QueryConfig) GetScaleBinWidth() float64 {
	if c.ScaleBinWidth == nil {
		return 5
	}
	return *c.ScaleBinWidth
}

func (c *QueryConfig) GetRotationBinWidthDeg() float64 {
	if c.RotationBinWidthDeg == nil {
		return 60
	}
	return *c.RotationBinWidthDeg
}

func (c *QueryConfig) GetShufflePools() bool {
	return c.ShufflePools != nil && *c.ShufflePools
}

func (c *QueryConfig) GetShuffleSeed() int64 {
	if c.ShuffleSeed == nil {
		return 666
	}
	return *c.ShuffleSeed
}

func (c *QueryConfig) GetInferenceAddr() string {
	if c.InferenceAddr == nil {
		return ""
	}
	return *c.InferenceAddr
}

func (c *QueryConfig) GetInferenceTimeout() time.Duration {
	if c.InferenceTimeout == nil || *c.InferenceTimeout == "" {
		return 5 * time.Minute // default
	}
	d, err := time.ParseDuration(*c.InferenceTimeout)
	if err != nil {
		return 5 * time.Minute // default on parse error
	}
	return d
}

func (c *QueryConfig) GetInferenceBatchSize() int {
	if c.InferenceBatchSize == nil {
		return 16
	}
	return *c.InferenceBatchSize
}

// Params projects the config onto the selection parameters.
func (c *QueryConfig) Params() al.Params {
	p := al.Params{
		ConfidenceThreshold: c.GetConfidenceThreshold(),
		Rule:                c.GetRule(),
		EUTheta:             c.GetEUTheta(),
		AUTheta:             c.GetAUTheta(),
		ScorePlus:           c.GetScorePlus(),
		ScoreReverse:        c.GetScoreReverse(),
		K1:                  c.GetK1(),
		Budget:              c.GetBudget(),
		Bins: al.EntropyBins{
			ScaleMin:         c.GetScaleMin(),
			ScaleMax:         c.GetScaleMax(),
			ScaleWidth:       c.GetScaleBinWidth(),
			RotationWidthDeg: c.GetRotationBinWidthDeg(),
		},
	}
	if c.StatK != nil {
		w := *c.StatK
		p.Stat = &w
	}
	return p
}

// Policy builds the validated selection policy.
func (c *QueryConfig) Policy() (al.Policy, error) {
	return al.NewPolicy(c.Params())
}

// Override copies every set field of o onto c.
func (c *QueryConfig) Override(o *QueryConfig) {
	if o == nil {
		return
	}
	if o.ConfidenceThreshold != nil {
		c.ConfidenceThreshold = o.ConfidenceThreshold
	}
	if o.Rule != nil {
		c.Rule = o.Rule
	}
	if o.EUTheta != nil {
		c.EUTheta = o.EUTheta
	}
	if o.AUTheta != nil {
		c.AUTheta = o.AUTheta
	}
	if o.ScorePlus != nil {
		c.ScorePlus = o.ScorePlus
	}
	if o.ScoreReverse != nil {
		c.ScoreReverse = o.ScoreReverse
	}
	if o.K1 != nil {
		c.K1 = o.K1
	}
	if o.StatK != nil {
		c.StatK = o.StatK
	}
	if o.Budget != nil {
		c.Budget = o.Budget
	}
	if o.ScaleMin != nil {
		c.ScaleMin = o.ScaleMin
	}
	if o.ScaleMax != nil {
		c.ScaleMax = o.ScaleMax
	}
	if o.ScaleBinWidth != nil {
		c.ScaleBinWidth = o.ScaleBinWidth
	}
	if o.RotationBinWidthDeg != nil {
		c.RotationBinWidthDeg = o.RotationBinWidthDeg
	}
	if o.ShufflePools != nil {
		c.ShufflePools = o.ShufflePools
	}
	if o.ShuffleSeed != nil {
		c.ShuffleSeed = o.ShuffleSeed
	}
	if o.InferenceAddr != nil {
		c.InferenceAddr = o.InferenceAddr
	}
	if o.InferenceTimeout != nil {
		c.InferenceTimeout = o.InferenceTimeout
	}
	if o.InferenceBatchSize != nil {
		c.InferenceBatchSize = o.InferenceBatchSize
	}
}

// WithBudget returns a copy of c with Budget set, for callers that build
// configs in code.
func (c *QueryConfig) WithBudget(n int) *QueryConfig {
	cp := *c
	cp.Budget = ptrInt(n)
	return &cp
}

// WithThreshold returns a copy of c with ConfidenceThreshold set.
func (c *QueryConfig) WithThreshold(v float64) *QueryConfig {
	cp := *c
	cp.ConfidenceThreshold = ptrFloat64(v)
	return &cp
}
