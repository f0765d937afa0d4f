package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/rxtrust/rxtrust-api/types"
)

// DefaultDatasetPath is the CDSCO NSQ subset shipped with the repository.
const DefaultDatasetPath = "data/cdsco_nsq_dec25_subset.json"

// Registry holds the known NSQ batch records in load order.
type Registry struct {
	path   string
	logger *zap.Logger

	mu      sync.RWMutex
	records []types.RegistryRecord
}

// Load reads the dataset at path. A missing file yields an empty registry;
// a file that exists but does not parse is an error.
func Load(path string, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{path: path, logger: logger}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// New builds a registry from in-memory records, mostly for tests and tooling.
func New(records []types.RegistryRecord) *Registry {
	cp := make([]types.RegistryRecord, len(records))
	copy(cp, records)
	return &Registry{logger: zap.NewNop(), records: cp}
}

// Reload re-reads the dataset and swaps the records in one step.
func (r *Registry) Reload() error {
	if r.path == "" {
		return nil
	}
	records, err := readDataset(r.path)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.records = records
	r.mu.Unlock()
	r.logger.Debug("Registry: dataset loaded", zap.String("path", r.path), zap.Int("records", len(records)))
	return nil
}

func readDataset(path string) ([]types.RegistryRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("registry: failed to read dataset %s: %w", path, err)
	}
	var records []types.RegistryRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("registry: failed to parse dataset %s: %w", path, err)
	}
	return records, nil
}

// Path returns the dataset path the registry was loaded from.
func (r *Registry) Path() string {
	return r.path
}

// Len returns the number of loaded records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Records returns a copy of the records in load order.
func (r *Registry) Records() []types.RegistryRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cp := make([]types.RegistryRecord, len(r.records))
	copy(cp, r.records)
	return cp
}

// FindExactMatch returns the first record whose batch number equals the query
// and whose manufacturer contains the queried manufacturer, both normalised.
func (r *Registry) FindExactMatch(batchNumber, manufacturer string) *types.RegistryRecord {
	b := normalize(batchNumber)
	m := normalize(manufacturer)

	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range r.records {
		row := r.records[i]
		if normalize(row.BatchNumber) == b && strings.Contains(normalize(row.Manufacturer), m) {
			return &row
		}
	}
	return nil
}

func normalize(value string) string {
	return strings.Join(strings.Fields(strings.ToLower(value)), " ")
}

// ClassifyIssue maps an NSQ issue description to the verdict an audit of that
// batch is expected to reach.
func ClassifyIssue(issue string) types.Verdict {
	issueL := strings.ToLower(issue)
	for _, kw := range []string{"microbial", "impur", "assay", "dissolution", "related"} {
		if strings.Contains(issueL, kw) {
			return types.VerdictAlert
		}
	}
	return types.VerdictCaution
}
