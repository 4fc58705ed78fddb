package analysis

import (
	"time"
)

// Step is one fixed stage in the ordered clinical-analysis sequence.
type Step string

const (
	StepGrowth           Step = "growth"
	StepAbnormalityCheck Step = "abnormality_check"
	StepHistory          Step = "history"
	StepReferral         Step = "referral"
	StepDiagnosis        Step = "diagnosis"
	StepSummary          Step = "summary"
)

// PipelineSteps is the execution order of the analysis pipeline. Later
// steps rely on the assistant's accumulated context from earlier ones,
// so the order is fixed.
var PipelineSteps = []Step{
	StepGrowth,
	StepAbnormalityCheck,
	StepHistory,
	StepReferral,
	StepDiagnosis,
	StepSummary,
}

// GrowthEntry is one normalized growth measurement supplied by the
// patient-data provider. The pipeline only formats these into prompt
// text; it performs no validation of medical correctness.
type GrowthEntry struct {
	RecordedAt time.Time `json:"recorded_at"`
	AgeMonths  float64   `json:"age_months"`
	Kind       string    `json:"kind"` // height, weight, head_circumference, bmi
	Value      float64   `json:"value"`
	Unit       string    `json:"unit"`
	Percentile float64   `json:"percentile"`
	ZScore     float64   `json:"z_score"`
}

// HistoryRecord is one chronologically sorted patient-history item.
type HistoryRecord struct {
	RecordedAt time.Time `json:"recorded_at"`
	Data       string    `json:"data"`
}

// PatientInput is everything the pipeline needs for one analysis run.
type PatientInput struct {
	PatientSummary string          `json:"patient_summary"`
	GrowthEntries  []GrowthEntry   `json:"growth_entries"`
	HistoryRecords []HistoryRecord `json:"history_records"`
}

// DisplayedFile is a cited source file already rendered to the user.
type DisplayedFile struct {
	FileID   string `json:"file_id"`
	Name     string `json:"name"`
	Citation int    `json:"citation"`
}

// StepResult is the outcome of a single pipeline step. Failed results
// carry a degraded message instead of analysis text; the pipeline
// continues past them.
type StepResult struct {
	Step     Step            `json:"step"`
	Text     string          `json:"text,omitempty"`
	NewFiles []DisplayedFile `json:"new_files,omitempty"`
	Abnormal *bool           `json:"abnormal,omitempty"`
	Failed   bool            `json:"failed,omitempty"`
}

// TurnResult is the outcome of one free-form chat turn.
type TurnResult struct {
	Text     string          `json:"text"`
	NewFiles []DisplayedFile `json:"new_files,omitempty"`
	Failed   bool            `json:"failed,omitempty"`
}
