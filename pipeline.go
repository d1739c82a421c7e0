package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// defaultWorkers bounds journey fan-out for --all
const defaultWorkers = 4

// PipelineStage is how far a pipeline invocation runs
type PipelineStage int

const (
	StageGenerate PipelineStage = iota
	StageValidate
	StageVerify
)

// PipelineOptions control one pipeline invocation
type PipelineOptions struct {
	Stage           PipelineStage
	Heal            bool
	MaxHealAttempts int
}

// PipelineResult is one journey's trip through the stages
type PipelineResult struct {
	JourneyID    string
	Generation   *GenerateResult
	Validation   *ValidationResult
	Verification *VerificationResult
	Heal         *HealOutcome
	Err          error
}

// Passed reports whether every stage that ran came out clean
func (r *PipelineResult) Passed() bool {
	if r.Err != nil {
		return false
	}
	if r.Validation != nil && !r.Validation.Passed() {
		return false
	}
	if r.Heal != nil {
		return r.Heal.Healed()
	}
	if r.Verification != nil {
		return r.Verification.Passed
	}
	return true
}

// FinalVerification returns the last verification result, preferring the
// healed one
func (r *PipelineResult) FinalVerification() *VerificationResult {
	if r.Heal != nil && r.Heal.Final != nil {
		return r.Heal.Final
	}
	return r.Verification
}

// Pipeline drives generate → validate → verify → heal. Policy and
// catalog load once per invocation and are shared read-only across
// concurrently processed journeys.
type Pipeline struct {
	cfg     *ResolvedConfig
	policy  *Policy
	catalog *SelectorCatalog
	logger  *RunLogger
	runID   string

	policyRaw  []byte
	catalogRaw []byte

	appServer *AppServer
	evidence  *EvidenceCollector
	appOnce   sync.Once
	appErr    error
}

// NewPipeline loads shared state for a run. The run id comes from the
// logger when it has one, so log events and generated data namespaces
// line up.
func NewPipeline(cfg *ResolvedConfig, logger *RunLogger) (*Pipeline, error) {
	policyPath := filepath.Join(cfg.ProjectRoot, cfg.Config.Paths.PolicyPath)
	policy, err := LoadPolicy(policyPath)
	if err != nil {
		return nil, err
	}

	catalogPath := filepath.Join(cfg.ProjectRoot, cfg.Config.Paths.CatalogPath)
	catalog, err := LoadCatalog(catalogPath)
	if err != nil {
		return nil, err
	}

	policyRaw, _ := os.ReadFile(policyPath)
	catalogRaw, _ := os.ReadFile(catalogPath)

	runID := logger.RunID()
	if runID == "" {
		runID = uuid.NewString()
	}

	return &Pipeline{
		cfg:        cfg,
		policy:     policy,
		catalog:    catalog,
		logger:     logger,
		runID:      runID,
		policyRaw:  policyRaw,
		catalogRaw: catalogRaw,
		appServer:  NewAppServer(cfg.ProjectRoot, cfg.Config.App, logger),
		evidence:   NewEvidenceCollector(cfg.Config.Browser, logger),
	}, nil
}

// RunID returns the run's unique id
func (p *Pipeline) RunID() string {
	return p.runID
}

// RunDir returns this run's artifact directory
func (p *Pipeline) RunDir() string {
	return filepath.Join(p.cfg.ProjectRoot, ".autogen", "runs", shortRunID(p.runID))
}

func (p *Pipeline) journeyRunDir(journeyID string) string {
	return filepath.Join(p.RunDir(), journeyID)
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Close tears down anything the pipeline started
func (p *Pipeline) Close() {
	p.appServer.Stop()
}

// RunOne processes a single journey up to the requested stage. Parse and
// mapping failures abort before any file is written.
func (p *Pipeline) RunOne(ctx context.Context, journeyID string, opts PipelineOptions) *PipelineResult {
	res := &PipelineResult{JourneyID: journeyID}

	journeysDir := filepath.Join(p.cfg.ProjectRoot, p.cfg.Config.Paths.JourneysDir)
	path, err := FindJourneyPath(journeysDir, journeyID)
	if err != nil {
		res.Err = err
		return res
	}

	journey, err := ParseJourneyFile(path)
	if err != nil {
		res.Err = err
		return res
	}
	p.logger.Log(Event{
		Type:    EventJourneyLoaded,
		Journey: journey.ID,
		Msg:     journey.Title,
		Data:    map[string]any{"steps": len(journey.Steps), "criteria": len(journey.AcceptanceCriteria)},
	})

	ir, debts, err := p.buildIR(journey)
	if err != nil {
		res.Err = err
		return res
	}

	if len(debts) > 0 {
		if err := AppendDebtEntries(p.cfg.ProjectRoot, debts); err != nil {
			res.Err = err
			return res
		}
		for _, debt := range debts {
			p.logger.Log(Event{
				Type:    EventDebtRecorded,
				Journey: journey.ID,
				Step:    debt.StepIndex + 1,
				Msg:     fmt.Sprintf("css fallback for %q", debt.Target),
			})
		}
	}

	generator := NewGenerator(p.cfg, p.logger)
	res.Generation, err = generator.Generate(ctx, ir)
	if err != nil {
		res.Err = err
		return res
	}

	if opts.Stage < StageValidate {
		return res
	}

	runDir := p.journeyRunDir(journey.ID)
	if err := SaveIR(ir, filepath.Join(runDir, "ir.json")); err != nil {
		p.logger.Warning(fmt.Sprintf("cannot persist IR: %v", err))
	}

	validator := NewValidator(p.cfg, p.policy, p.logger)
	res.Validation, err = validator.ValidateJourney(ctx, journey, ir)
	if err != nil {
		res.Err = err
		return res
	}
	p.writeResult(filepath.Join(runDir, "validation.json"), res.Validation)

	if opts.Stage < StageVerify {
		return res
	}

	if !res.Validation.Passed() {
		errs, _ := res.Validation.Counts()
		res.Err = fmt.Errorf("%d validation errors block verification for %s", errs, journey.ID)
		return res
	}

	if err := p.ensureApp(ctx); err != nil {
		res.Err = err
		return res
	}

	verifier := NewVerifier(p.cfg, p.logger)
	attemptDir := filepath.Join(runDir, "attempt-1")
	res.Verification, err = verifier.Run(ctx, journey.ID, ir.RunID, attemptDir)
	if err != nil {
		res.Err = err
		return res
	}

	if !res.Verification.Passed && p.evidence.Enabled() {
		bundle, evErr := p.evidence.Capture(ctx, journey, attemptDir)
		if evErr != nil {
			p.logger.Warning(fmt.Sprintf("evidence capture failed: %v", evErr))
		}
		if bundle != nil {
			res.Verification.Evidence = bundle
		}
	}

	if !res.Verification.Passed && opts.Heal {
		healer := NewHealer(p.cfg, p.policy, p.catalog, p.logger)
		healer.SetMaxAttempts(opts.MaxHealAttempts)
		res.Heal, err = healer.Heal(ctx, journey, ir, runDir, res.Verification)
		if err != nil {
			res.Err = err
			return res
		}
	}

	final := res.FinalVerification()
	if final != nil && !final.Passed && final.Evidence == nil {
		final.Evidence = res.Verification.Evidence
	}
	p.writeResult(filepath.Join(runDir, "verification.json"), final)
	return res
}

// RunAll fans journeys out over a fixed worker pool, returning results
// in input order
func (p *Pipeline) RunAll(ctx context.Context, journeyIDs []string, workers int, opts PipelineOptions) []*PipelineResult {
	if workers <= 0 {
		workers = defaultWorkers
	}

	results := make(chan *PipelineResult, len(journeyIDs))
	work := make(chan string, len(journeyIDs))

	var wg sync.WaitGroup
	for i := 0; i < workers && i < len(journeyIDs); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range work {
				results <- p.RunOne(ctx, id, opts)
			}
		}()
	}

	for _, id := range journeyIDs {
		work <- id
	}
	close(work)
	wg.Wait()
	close(results)

	byID := make(map[string]*PipelineResult, len(journeyIDs))
	for res := range results {
		byID[res.JourneyID] = res
	}

	ordered := make([]*PipelineResult, 0, len(journeyIDs))
	for _, id := range journeyIDs {
		if res, ok := byID[id]; ok {
			ordered = append(ordered, res)
		}
	}
	return ordered
}

// buildIR returns the journey's mapping, reusing the cache when journey,
// policy, and catalog are all unchanged
func (p *Pipeline) buildIR(journey *Journey) (*IRJourney, []DebtEntry, error) {
	fingerprint := IRFingerprint(journey.Raw, p.policyRaw, p.catalogRaw)

	if cached, ok := LoadCachedIR(p.cfg.ProjectRoot, journey.ID, fingerprint); ok {
		cached.RunID = p.runID
		p.logger.Log(Event{
			Type:    EventIRBuilt,
			Journey: journey.ID,
			Msg:     "reused cached mapping",
			Data:    map[string]any{"steps": len(cached.Steps), "fingerprint": fingerprint},
		})
		return cached, nil, nil
	}

	ir, debts, err := BuildIR(journey, p.policy, p.catalog, p.runID)
	if err != nil {
		return nil, nil, err
	}

	for _, step := range ir.Steps {
		p.logger.Log(Event{
			Type:    EventStepMapped,
			Journey: journey.ID,
			Step:    step.StepIndex + 1,
			Msg:     string(step.Primitive),
			Data:    stepEventData(step),
		})
	}
	p.logger.Log(Event{
		Type:    EventIRBuilt,
		Journey: journey.ID,
		Msg:     fmt.Sprintf("%d steps mapped", len(ir.Steps)),
		Data:    map[string]any{"fingerprint": fingerprint},
	})

	SaveCachedIR(p.cfg.ProjectRoot, journey.ID, fingerprint, ir)
	return ir, debts, nil
}

func stepEventData(step IRStep) map[string]any {
	data := map[string]any{}
	if step.Target != "" {
		data["target"] = step.Target
	}
	if step.Locator != nil {
		data["strategy"] = string(step.Locator.Strategy)
	}
	if step.ACID != "" {
		data["criterion"] = step.ACID
	}
	if len(data) == 0 {
		return nil
	}
	return data
}

// ensureApp starts the app under test once per process
func (p *Pipeline) ensureApp(ctx context.Context) error {
	p.appOnce.Do(func() {
		if p.appServer.Configured() {
			p.appErr = p.appServer.EnsureRunning(ctx)
		}
	})
	return p.appErr
}

func (p *Pipeline) writeResult(path string, v any) {
	if err := AtomicWriteJSON(path, v); err != nil {
		p.logger.Warning(fmt.Sprintf("cannot persist %s: %v", filepath.Base(path), err))
	}
}
