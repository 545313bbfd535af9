package config

// The document types mirror the on-disk layout. Pointers distinguish an
// absent key from a zero value.

type document struct {
	Operators         *operatorsDoc               `yaml:"operators"`
	RiskWeights       *weightsDoc                 `yaml:"risk_weights"`
	AnomalyThresholds *anomalyThresholdsDoc       `yaml:"anomaly_thresholds"`
	TimePatterns      *timePatternsDoc            `yaml:"time_patterns"`
	BusinessTypes     map[string]*businessTypeDoc `yaml:"business_types"`
	SpecialPatterns   *specialPatternsDoc         `yaml:"special_patterns"`
	CustomRules       []customRuleDoc             `yaml:"custom_rules"`
	Detection         *detectionDoc               `yaml:"detection"`
}

type operatorsDoc struct {
	MinOperationsForBaseline *int `yaml:"min_operations_for_baseline"`
}

type weightsDoc struct {
	Amount    *float64 `yaml:"amount_anomaly"`
	Frequency *float64 `yaml:"frequency_anomaly"`
	Time      *float64 `yaml:"time_anomaly"`
	Operator  *float64 `yaml:"operator_anomaly"`
}

type anomalyThresholdsDoc struct {
	Amount *thresholdsDoc `yaml:"amount"`
}

type thresholdsDoc struct {
	Low    *float64 `yaml:"low"`
	Medium *float64 `yaml:"medium"`
	High   *float64 `yaml:"high"`
}

type windowDoc struct {
	Start *string `yaml:"start"`
	End   *string `yaml:"end"`
}

type timePatternsDoc struct {
	BusinessHours     *windowDoc `yaml:"business_hours"`
	NightHours        *windowDoc `yaml:"night_hours"`
	WeekendMultiplier *float64   `yaml:"weekend_multiplier"`
}

type businessTypeDoc struct {
	NormalFrequencyPerDay *float64        `yaml:"normal_frequency_per_day"`
	AmountThresholds      *thresholdsDoc  `yaml:"amount_thresholds"`
	NormalAmountRange     []float64       `yaml:"normal_amount_range"`
	SpecialRules          *specialRuleDoc `yaml:"special_rules"`
}

type specialRuleDoc struct {
	NightHighTraffic *bool `yaml:"night_high_traffic"`
	RoamingSurge     *bool `yaml:"roaming_surge"`
	RapidSuccession  *bool `yaml:"rapid_succession"`
}

type patternDoc struct {
	Enabled            *bool    `yaml:"enabled"`
	RiskBoost          *float64 `yaml:"risk_boost"`
	MinIntervalSeconds *float64 `yaml:"min_interval_seconds"`
}

type specialPatternsDoc struct {
	NightHighTraffic *patternDoc `yaml:"night_high_traffic"`
	RoamingSurge     *patternDoc `yaml:"international_roaming_surge"`
	RapidSuccession  *patternDoc `yaml:"rapid_succession"`
}

type customRuleDoc struct {
	ID         string   `yaml:"id"`
	Name       string   `yaml:"name"`
	Expression string   `yaml:"expression"`
	RiskBoost  *float64 `yaml:"risk_boost"`
	Enabled    *bool    `yaml:"enabled"`
}

type detectionDoc struct {
	HighRiskThreshold *float64 `yaml:"high_risk_threshold"`
	MaxWorkers        *int     `yaml:"max_workers"`
}
