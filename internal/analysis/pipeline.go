package analysis

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/simonmoedinger/aitab/internal/telemetry"
)

var pipelineTracer trace.Tracer = otel.Tracer("aitab/internal/analysis/pipeline")

// Pipeline drives the fixed sequence of clinical-analysis prompts over
// one assistant thread. It owns no per-patient state: everything mutable
// lives in the Session, so one Pipeline serves any number of sessions.
type Pipeline struct {
	svc         Service
	poller      *Poller
	catalog     *Catalog
	assistantID string
	tele        *telemetry.Telemetry
	logger      *log.Logger
}

// NewPipeline wires a pipeline from its collaborators.
func NewPipeline(svc Service, poller *Poller, catalog *Catalog, assistantID string, tele *telemetry.Telemetry, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags)
	}
	return &Pipeline{
		svc:         svc,
		poller:      poller,
		catalog:     catalog,
		assistantID: assistantID,
		tele:        tele,
		logger:      logger,
	}
}

// Run executes the whole analysis sequence for one patient, emitting one
// StepResult per step as it completes. The only fatal error is failing
// to create the thread; every per-step failure is rendered as a degraded
// result and the sequence continues, so a flaky single step never costs
// the caller the rest of the analysis.
func (p *Pipeline) Run(ctx context.Context, sess *Session, input PatientInput, emit func(StepResult)) error {
	ctx, span := pipelineTracer.Start(ctx, "analysis.pipeline",
		trace.WithAttributes(attribute.String("session.id", sess.ID)))
	defer span.End()

	if sess.ThreadID() == "" {
		thread, err := p.svc.CreateThread(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("create thread: %w", err)
		}
		sess.BindThread(thread.ID)
	}
	sess.Touch()

	// Evaluated once, before the sequence starts, not per step.
	hasHistory := len(input.HistoryRecords) > 0

	for _, step := range PipelineSteps {
		start := time.Now()
		var res StepResult
		switch step {
		case StepGrowth:
			res = p.analysisStep(ctx, sess, step, growthPrompt(input.PatientSummary, input.GrowthEntries))
		case StepAbnormalityCheck:
			res = p.abnormalityStep(ctx, sess)
		case StepHistory:
			if !hasHistory {
				res = StepResult{Step: step, Text: noHistoryMessage}
				break
			}
			res = p.analysisStep(ctx, sess, step, historyPrompt(input.HistoryRecords))
		case StepReferral:
			res = p.analysisStep(ctx, sess, step, referralPrompt())
		case StepDiagnosis:
			res = p.analysisStep(ctx, sess, step, diagnosisPrompt())
		case StepSummary:
			res = p.analysisStep(ctx, sess, step, summaryPrompt())
		}
		p.tele.RecordStep(string(step), res.Failed, time.Since(start))
		if res.Failed {
			span.AddEvent("step.failed", trace.WithAttributes(attribute.String("step", string(step))))
		}
		emit(res)

		if ctx.Err() != nil {
			span.SetStatus(codes.Error, ctx.Err().Error())
			return ctx.Err()
		}
	}

	span.SetStatus(codes.Ok, "completed")
	return nil
}

// analysisStep runs one long-form prompt through the poller, resolves
// citations and files, and never returns an error: terminal-but-failed
// runs become a degraded result.
func (p *Pipeline) analysisStep(ctx context.Context, sess *Session, step Step, prompt string) StepResult {
	raw, annotations, err := p.poller.Execute(ctx, sess.ThreadID(), p.assistantID, prompt)
	if err != nil {
		p.logger.Printf("step %s failed: %v", step, err)
		return StepResult{Step: step, Text: degradedMessage, Failed: true}
	}
	text := ResolveAnnotations(sess.Registry(), raw, annotations)
	text = CollapseDuplicateMarkers(text)
	files := p.catalog.Resolve(ctx, sess, annotations)
	return StepResult{Step: step, Text: text, NewFiles: files}
}

// abnormalityStep asks the forced yes/no question. It produces no
// long-form text and bypasses citation and file resolution entirely; its
// only output is the abnormality flag.
func (p *Pipeline) abnormalityStep(ctx context.Context, sess *Session) StepResult {
	raw, _, err := p.poller.Execute(ctx, sess.ThreadID(), p.assistantID, abnormalityPrompt())
	if err != nil {
		p.logger.Printf("step %s failed: %v", StepAbnormalityCheck, err)
		return StepResult{Step: StepAbnormalityCheck, Failed: true}
	}
	abnormal := parseYesNo(raw)
	return StepResult{Step: StepAbnormalityCheck, Abnormal: &abnormal}
}
