package telemetry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/posthog/posthog-go"
	"go.uber.org/zap"

	"github.com/rxtrust/rxtrust-api/types"
	"github.com/rxtrust/rxtrust-api/version"
)

const (
	OptOutEnv = "RXTRUST_TELEMETRY_OPTOUT"

	defaultBatchSize = 20
	defaultInterval  = 30 * time.Second

	auditCompletedEvent = "audit_completed"
)

// Config controls the anonymous usage events.
type Config struct {
	Enabled        bool
	APIKey         string
	Endpoint       string
	InstanceIDPath string
}

// Client sends anonymous audit outcomes to PostHog. A disabled client is a
// no-op, so callers never need to check.
type Client struct {
	mu         sync.Mutex
	posthog    posthog.Client
	instanceID string
	logger     *zap.Logger
}

// New builds a client. Telemetry stays disabled when it is switched off in
// config, when RXTRUST_TELEMETRY_OPTOUT=true, or when no API key is set.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{logger: logger.Named("telemetry")}

	if !cfg.Enabled || strings.EqualFold(os.Getenv(OptOutEnv), "true") || cfg.APIKey == "" {
		c.logger.Debug("Telemetry: disabled")
		return c, nil
	}

	id, err := loadOrGenerateInstanceID(cfg.InstanceIDPath)
	if err != nil {
		return nil, fmt.Errorf("telemetry: failed to load instance id: %w", err)
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = posthog.DefaultEndpoint
	}
	client, err := posthog.NewWithConfig(cfg.APIKey, posthog.Config{
		Endpoint:  endpoint,
		BatchSize: defaultBatchSize,
		Interval:  defaultInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: failed to initialize PostHog client: %w", err)
	}
	c.posthog = client
	c.instanceID = id
	c.logger.Info("Telemetry: enabled", zap.String("instance_id", id))
	return c, nil
}

// Enabled reports whether events are being sent.
func (c *Client) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.posthog != nil
}

// InstanceID returns the anonymous id of this installation, empty when disabled.
func (c *Client) InstanceID() string {
	return c.instanceID
}

// TrackAudit enqueues an audit outcome. Product identifiers are not sent.
func (c *Client) TrackAudit(ev types.AuditEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.posthog == nil {
		return
	}
	err := c.posthog.Enqueue(posthog.Capture{
		DistinctId: c.instanceID,
		Event:      auditCompletedEvent,
		Timestamp:  ev.Timestamp,
		Properties: auditProperties(ev),
	})
	if err != nil {
		c.logger.Debug("Telemetry: failed to enqueue event", zap.Error(err))
	}
}

func auditProperties(ev types.AuditEvent) posthog.Properties {
	return posthog.NewProperties().
		Set("verdict", string(ev.Verdict)).
		Set("risk_score", ev.RiskScore).
		Set("cached", ev.Cached).
		Set("registry_match", ev.RegistryMatchID != nil).
		Set("duration_ms", ev.DurationMs).
		Set("version", version.Version).
		Set("os_type", runtime.GOOS).
		Set("arch_type", runtime.GOARCH)
}

// Close flushes queued events.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.posthog == nil {
		return nil
	}
	err := c.posthog.Close()
	c.posthog = nil
	return err
}

func loadOrGenerateInstanceID(path string) (string, error) {
	if path == "" {
		return "", errors.New("instance id path is required")
	}
	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}

	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(id), 0o600); err != nil {
		return "", err
	}
	return id, nil
}
