package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rxtrust/rxtrust-api/agents"
	"github.com/rxtrust/rxtrust-api/localstore"
	"github.com/rxtrust/rxtrust-api/types"
)

// Cache stores responses keyed by request fingerprint.
type Cache interface {
	Get(ctx context.Context, req types.AuditRequest) (*types.AuditResponse, error)
	Set(ctx context.Context, req types.AuditRequest, resp *types.AuditResponse) error
}

// EventRecorder receives one event per completed audit.
type EventRecorder interface {
	Record(ev types.AuditEvent)
}

const (
	cautionThreshold = 35
	alertThreshold   = 70
	maxRiskScore     = 100
)

// VerdictFor buckets a combined score: [0,35) safe, [35,70) caution, [70,100] alert.
func VerdictFor(score int) types.Verdict {
	switch {
	case score >= alertThreshold:
		return types.VerdictAlert
	case score >= cautionThreshold:
		return types.VerdictCaution
	default:
		return types.VerdictSafe
	}
}

// Service runs the audit pipeline.
type Service struct {
	investigator *agents.Investigator
	reasoner     agents.Reasoner
	guardian     *agents.Guardian
	cache        Cache
	recorder     EventRecorder
	logger       *zap.Logger
	now          func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithRecorder attaches an audit-trail recorder.
func WithRecorder(r EventRecorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the generation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(investigator *agents.Investigator, reasoner agents.Reasoner, guardian *agents.Guardian, cache Cache, opts ...Option) *Service {
	s := &Service{
		investigator: investigator,
		reasoner:     reasoner,
		guardian:     guardian,
		cache:        cache,
		logger:       zap.NewNop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Audit validates req and returns either the cached response or a freshly
// computed one, which is stored before returning.
func (s *Service) Audit(ctx context.Context, req types.AuditRequest) (*types.AuditResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req = req.Normalized()
	start := time.Now()

	cached, err := s.cache.Get(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("cache lookup: %w", err)
	}
	if cached != nil {
		s.logger.Debug("Audit: cache hit", zap.String("batch_number", req.BatchNumber))
		s.record(req, cached, nil, start)
		return cached, nil
	}

	investigation, err := s.investigator.Run(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("investigation: %w", err)
	}
	reasoning, err := s.reasoner.Reason(ctx, req, investigation)
	if err != nil {
		return nil, fmt.Errorf("reasoning: %w", err)
	}
	guardian, err := s.guardian.Adjust(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("guardian: %w", err)
	}

	total := min(maxRiskScore, reasoning.RiskScore+guardian.PersonalizedRiskDelta)
	resp := &types.AuditResponse{
		Request:     req,
		Verdict:     VerdictFor(total),
		RiskScore:   total,
		Confidence:  reasoning.ComplianceProbability,
		Summary:     summarize(investigation),
		Reasoning:   reasoning,
		Guardian:    guardian,
		Evidence:    investigation.Results,
		GeneratedAt: s.now().UTC(),
	}

	if err := s.cache.Set(ctx, req, resp); err != nil {
		return nil, fmt.Errorf("cache store: %w", err)
	}

	s.logger.Info("Audit: completed",
		zap.String("product_name", req.ProductName),
		zap.String("batch_number", req.BatchNumber),
		zap.String("verdict", string(resp.Verdict)),
		zap.Int("risk_score", resp.RiskScore),
		zap.Bool("registry_match", investigation.NSQMatch != nil),
	)
	s.record(req, resp, investigation.NSQMatch, start)
	return resp, nil
}

func summarize(inv types.InvestigationResult) string {
	matchText := " No exact NSQ batch match found."
	if inv.NSQMatch != nil {
		matchText = " Exact NSQ batch match found."
	}
	return fmt.Sprintf("Waterfall audit across %s returned %d evidence links.%s",
		strings.Join(inv.JurisdictionChain, ", "), len(inv.Results), matchText)
}

func (s *Service) record(req types.AuditRequest, resp *types.AuditResponse, match *types.RegistryRecord, start time.Time) {
	if s.recorder == nil {
		return
	}
	ev := types.AuditEvent{
		ID:           uuid.NewString(),
		Timestamp:    s.now().UTC(),
		CacheKey:     localstore.Fingerprint(req),
		ProductName:  req.ProductName,
		BatchNumber:  req.BatchNumber,
		Manufacturer: req.Manufacturer,
		Verdict:      resp.Verdict,
		RiskScore:    resp.RiskScore,
		Cached:       resp.Cached,
		DurationMs:   time.Since(start).Milliseconds(),
	}
	if match != nil {
		id := match.ID
		ev.RegistryMatchID = &id
	}
	s.recorder.Record(ev)
}
