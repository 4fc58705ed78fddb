package analysis

import (
	"fmt"
	"strings"
)

// Prompt templates for the fixed analysis sequence. Only the first two
// steps are parameterized by patient data; the rest lean on the
// assistant's accumulated thread context.

const degradedMessage = "An error occurred while generating this section. Please try again."

const noHistoryMessage = "No patient history records are available for this patient, so no history analysis was performed."

func growthPrompt(patientSummary string, entries []GrowthEntry) string {
	return fmt.Sprintf(`You are a clinical decision-support assistant for pediatric growth assessment.

PATIENT:
%s

GROWTH MEASUREMENTS (normalized, chronological):
%s

Analyze the growth data above. Describe the trajectory for each measurement kind, name percentile crossings and z-score deviations, and compare against the reference ranges in your knowledge files. Cite the source documents you rely on. Respond in concise clinical prose.`, patientSummary, formatGrowthEntries(entries))
}

func abnormalityPrompt() string {
	return `Based solely on the growth analysis you just produced: is there any clinically significant growth abnormality? Answer with exactly one word, yes or no. Do not add anything else.`
}

func historyPrompt(records []HistoryRecord) string {
	return fmt.Sprintf(`PATIENT HISTORY (chronological):
%s

Analyze this patient history in the context of the growth findings above. Point out conditions, medications, immunization gaps or events that could explain or aggravate the growth pattern. Cite the source documents you rely on.`, formatHistoryRecords(records))
}

func referralPrompt() string {
	return `Given your growth and history analysis of this patient, recommend concrete next steps: further measurements, laboratory work-ups, and whether a specialist referral is warranted (and to whom). Cite the guidelines you rely on.`
}

func diagnosisPrompt() string {
	return `Provide a ranked differential diagnosis for this patient's growth pattern, with a one-sentence rationale per candidate. Cite the source documents you rely on.`
}

func summaryPrompt() string {
	return `Write an executive summary of the whole analysis above for the treating pediatrician: key findings, abnormality assessment, most likely explanations, and the recommended next steps. Keep it under 200 words.`
}

func formatGrowthEntries(entries []GrowthEntry) string {
	if len(entries) == 0 {
		return "(no measurements supplied)"
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("- %s | age %.1f months | %s: %.2f %s | percentile %.1f | z-score %.2f",
			e.RecordedAt.Format("2006-01-02"), e.AgeMonths, e.Kind, e.Value, e.Unit, e.Percentile, e.ZScore))
	}
	return strings.Join(lines, "\n")
}

func formatHistoryRecords(records []HistoryRecord) string {
	if len(records) == 0 {
		return "(no history records supplied)"
	}
	lines := make([]string, 0, len(records))
	for _, r := range records {
		lines = append(lines, fmt.Sprintf("- %s: %s", r.RecordedAt.Format("2006-01-02"), r.Data))
	}
	return strings.Join(lines, "\n")
}

// parseYesNo interprets the abnormality check's forced one-word answer.
// Anything that does not start with "yes" counts as no.
func parseYesNo(raw string) bool {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.Trim(s, ".!\"' ")
	return strings.HasPrefix(s, "yes")
}
