package audit

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rxtrust/rxtrust-api/agents"
	"github.com/rxtrust/rxtrust-api/localstore"
	"github.com/rxtrust/rxtrust-api/registry"
	"github.com/rxtrust/rxtrust-api/search"
	"github.com/rxtrust/rxtrust-api/types"
)

type memoryRecorder struct {
	mu     sync.Mutex
	events []types.AuditEvent
}

func (m *memoryRecorder) Record(ev types.AuditEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func newTestService(t *testing.T, recorder EventRecorder) *Service {
	t.Helper()
	store, err := localstore.Open(filepath.Join(t.TempDir(), "rxtrust.db"), localstore.Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg := registry.New([]types.RegistryRecord{{
		ID: 58, Product: "Telmisartan", BatchNumber: "TS-249", Manufacturer: "Trimedix Pharma (P) Ltd.", Issue: "Dissolution",
	}})
	opts := []Option{WithLogger(zaptest.NewLogger(t))}
	if recorder != nil {
		opts = append(opts, WithRecorder(recorder))
	}
	return NewService(
		agents.NewInvestigator(search.NewStubClient(), reg),
		agents.HeuristicReasoner{},
		agents.NewGuardian(nil),
		store,
		opts...,
	)
}

func TestVerdictFor(t *testing.T) {
	for score := 0; score <= 100; score++ {
		got := VerdictFor(score)
		switch {
		case score < 35:
			assert.Equal(t, types.VerdictSafe, got, score)
		case score < 70:
			assert.Equal(t, types.VerdictCaution, got, score)
		default:
			assert.Equal(t, types.VerdictAlert, got, score)
		}
	}
}

func TestAuditThenCacheHit(t *testing.T) {
	rec := &memoryRecorder{}
	svc := newTestService(t, rec)
	ctx := context.Background()
	req := types.AuditRequest{ProductName: "Paracetamol", BatchNumber: "A123", Manufacturer: "ABC Labs"}

	first, err := svc.Audit(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Len(t, first.Evidence, 3)
	assert.Equal(t, 42, first.RiskScore)
	assert.Equal(t, types.VerdictCaution, first.Verdict)
	assert.Equal(t, first.Reasoning.ComplianceProbability, first.Confidence)
	assert.Equal(t,
		"Waterfall audit across CDSCO, FDA, Health Canada returned 3 evidence links. No exact NSQ batch match found.",
		first.Summary)

	second, err := svc.Audit(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Cached)

	if diff := cmp.Diff(first, second, cmpopts.IgnoreFields(types.AuditResponse{}, "Cached")); diff != "" {
		t.Errorf("cached response differs (-first +second):\n%s", diff)
	}

	require.Len(t, rec.events, 2)
	assert.False(t, rec.events[0].Cached)
	assert.True(t, rec.events[1].Cached)
	assert.Equal(t, localstore.Fingerprint(req), rec.events[0].CacheKey)
	assert.NotEqual(t, rec.events[0].ID, rec.events[1].ID)
}

func TestAuditRegistryMatch(t *testing.T) {
	rec := &memoryRecorder{}
	svc := newTestService(t, rec)

	resp, err := svc.Audit(context.Background(), types.AuditRequest{
		ProductName: "Telmisartan", BatchNumber: "TS-249", Manufacturer: "Trimedix Pharma (P) Ltd.",
	})
	require.NoError(t, err)

	assert.Equal(t, 76, resp.Reasoning.RiskScore, "registry floor of 90 scaled by the 0.85 manufacturer bias")
	assert.Equal(t, types.VerdictAlert, resp.Verdict)
	assert.Contains(t, resp.Summary, "Exact NSQ batch match found.")
	require.Len(t, rec.events, 1)
	require.NotNil(t, rec.events[0].RegistryMatchID)
	assert.Equal(t, 58, *rec.events[0].RegistryMatchID)
}

func TestAuditGuardianDeltaAndClamp(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	diabetic, err := svc.Audit(ctx, types.AuditRequest{
		ProductName:     "Cough Syrup",
		BatchNumber:     "OLM24120",
		Manufacturer:    "Example Pharma",
		GuardianProfile: types.GuardianProfile{Diabetes: true},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, diabetic.Guardian.PersonalizedFlags)
	assert.GreaterOrEqual(t, diabetic.Guardian.PersonalizedRiskDelta, 25)
	assert.Equal(t, min(100, diabetic.Reasoning.RiskScore+diabetic.Guardian.PersonalizedRiskDelta), diabetic.RiskScore)
	assert.GreaterOrEqual(t, diabetic.RiskScore, 35)
	assert.Contains(t, []types.Verdict{types.VerdictCaution, types.VerdictAlert}, diabetic.Verdict)

	heavy, err := svc.Audit(ctx, types.AuditRequest{
		ProductName:  "Acetaminophen",
		BatchNumber:  "TS-249",
		Manufacturer: "Trimedix",
		GuardianProfile: types.GuardianProfile{
			Diabetes: true, LiverIssues: true, Allergies: []string{"sucrose", "acetaminophen"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 100, heavy.RiskScore)
	assert.Equal(t, types.VerdictAlert, heavy.Verdict)
	assert.LessOrEqual(t, heavy.Confidence, 1.0)
	assert.GreaterOrEqual(t, heavy.Confidence, 0.0)
}

func TestAuditRejectsInvalidRequest(t *testing.T) {
	rec := &memoryRecorder{}
	svc := newTestService(t, rec)

	_, err := svc.Audit(context.Background(), types.AuditRequest{ProductName: "P", BatchNumber: "A123", Manufacturer: "M"})
	var verrs types.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Len(t, verrs, 2)
	assert.Empty(t, rec.events)
}

type failingCache struct{ getErr, setErr error }

func (f failingCache) Get(context.Context, types.AuditRequest) (*types.AuditResponse, error) {
	return nil, f.getErr
}

func (f failingCache) Set(context.Context, types.AuditRequest, *types.AuditResponse) error {
	return f.setErr
}

func TestAuditPropagatesCacheErrors(t *testing.T) {
	build := func(c Cache) *Service {
		return NewService(
			agents.NewInvestigator(search.NewStubClient(), registry.New(nil)),
			agents.HeuristicReasoner{},
			agents.NewGuardian(nil),
			c,
			WithClock(func() time.Time { return time.Unix(0, 0) }),
		)
	}
	req := types.AuditRequest{ProductName: "Paracetamol", BatchNumber: "A123", Manufacturer: "ABC Labs"}

	_, err := build(failingCache{getErr: errors.New("disk I/O error")}).Audit(context.Background(), req)
	assert.ErrorContains(t, err, "cache lookup")

	_, err = build(failingCache{setErr: errors.New("disk full")}).Audit(context.Background(), req)
	assert.ErrorContains(t, err, "cache store")
}

func TestAuditEchoesEmptyAllergyList(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	req := types.AuditRequest{ProductName: "Paracetamol", BatchNumber: "A123", Manufacturer: "ABC Labs"}

	for _, pass := range []string{"computed", "cached"} {
		resp, err := svc.Audit(ctx, req)
		require.NoError(t, err, pass)
		assert.NotNil(t, resp.Request.GuardianProfile.Allergies, pass)

		body, err := json.Marshal(resp)
		require.NoError(t, err)
		assert.Contains(t, string(body), `"allergies":[]`, pass)
	}
}
