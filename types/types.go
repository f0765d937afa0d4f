package types

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Verdict is the tier derived from the combined risk score.
type Verdict string

const (
	VerdictSafe    Verdict = "safe"
	VerdictCaution Verdict = "caution"
	VerdictAlert   Verdict = "alert"
)

// GuardianProfile carries the patient conditions and allergies used for personalised flags.
type GuardianProfile struct {
	Diabetes     bool     `json:"diabetes"`
	LiverIssues  bool     `json:"liver_issues"`
	KidneyIssues bool     `json:"kidney_issues"`
	Allergies    []string `json:"allergies"`
}

// AuditRequest is the body of POST /audit.
type AuditRequest struct {
	ProductName     string          `json:"product_name"`
	BatchNumber     string          `json:"batch_number"`
	Manufacturer    string          `json:"manufacturer"`
	GuardianProfile GuardianProfile `json:"guardian_profile"`
}

// Normalized returns r with an empty, non-nil allergy list when none was
// given, so the request echoed in responses serialises "allergies": [].
func (r AuditRequest) Normalized() AuditRequest {
	if r.GuardianProfile.Allergies == nil {
		r.GuardianProfile.Allergies = []string{}
	}
	return r
}

const minFieldLength = 2

// FieldError describes one rejected request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is returned by AuditRequest.Validate when one or more fields are rejected.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, fe := range v {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return "invalid audit request: " + strings.Join(parts, "; ")
}

// Validate checks the minimum length of the identifying fields.
func (r AuditRequest) Validate() error {
	var errs ValidationErrors
	fields := []struct {
		name  string
		value string
	}{
		{"product_name", r.ProductName},
		{"batch_number", r.BatchNumber},
		{"manufacturer", r.Manufacturer},
	}
	for _, f := range fields {
		if utf8.RuneCountInString(f.value) < minFieldLength {
			errs = append(errs, FieldError{
				Field:   f.name,
				Message: fmt.Sprintf("must be at least %d characters", minFieldLength),
			})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// RegistryRecord is a known NSQ (Not of Standard Quality) batch.
type RegistryRecord struct {
	ID           int    `json:"id"`
	Product      string `json:"product"`
	BatchNumber  string `json:"batch_number"`
	Manufacturer string `json:"manufacturer"`
	Issue        string `json:"issue"`
}

// EvidenceLink is a single deep link produced by the waterfall search.
type EvidenceLink struct {
	Source              string    `json:"source"`
	Title               string    `json:"title"`
	URL                 string    `json:"url"`
	HighlightedFragment *string   `json:"highlighted_fragment"`
	RetrievedAt         time.Time `json:"retrieved_at"`
}

// InvestigationResult is built once per request by the investigator.
type InvestigationResult struct {
	SearchQuery       string          `json:"search_query"`
	Results           []EvidenceLink  `json:"results"`
	JurisdictionChain []string        `json:"jurisdiction_chain"`
	NSQMatch          *RegistryRecord `json:"nsq_match"`
}

type ReasoningResult struct {
	RiskScore             int     `json:"risk_score"`
	Rationale             string  `json:"rationale"`
	ComplianceProbability float64 `json:"compliance_probability"`
}

type GuardianResult struct {
	PersonalizedFlags     []string `json:"personalized_flags"`
	PersonalizedRiskDelta int      `json:"personalized_risk_delta"`
}

// AuditResponse is the full snapshot returned to callers and persisted as the cache value.
type AuditResponse struct {
	Request     AuditRequest    `json:"request"`
	Verdict     Verdict         `json:"verdict"`
	RiskScore   int             `json:"risk_score"`
	Confidence  float64         `json:"confidence"`
	Summary     string          `json:"summary"`
	Reasoning   ReasoningResult `json:"reasoning"`
	Guardian    GuardianResult  `json:"guardian"`
	Evidence    []EvidenceLink  `json:"evidence"`
	Cached      bool            `json:"cached"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// AuditEvent is one entry of the audit trail. It is stored locally and may be
// forwarded as an anonymous telemetry event.
type AuditEvent struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	CacheKey        string    `json:"cache_key"`
	ProductName     string    `json:"product_name"`
	BatchNumber     string    `json:"batch_number"`
	Manufacturer    string    `json:"manufacturer"`
	Verdict         Verdict   `json:"verdict"`
	RiskScore       int       `json:"risk_score"`
	Cached          bool      `json:"cached"`
	RegistryMatchID *int      `json:"registry_match_id,omitempty"`
	DurationMs      int64     `json:"duration_ms"`
}
