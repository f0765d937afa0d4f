package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/rxtrust/rxtrust-api/types"
)

const testDataset = `[
  {"id": 57, "product": "Telmisartan", "batch_number": "TS-248", "manufacturer": "Trimedix Pharma (P) Ltd.", "issue": "Assay"},
  {"id": 58, "product": "Telmisartan", "batch_number": "TS-249", "manufacturer": "Trimedix Pharma (P) Ltd.", "issue": "Dissolution"},
  {"id": 59, "product": "Telmisartan", "batch_number": "ts-249", "manufacturer": "Trimedix   Pharma (P) Ltd. Unit II", "issue": "Description"}
]`

func writeDataset(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "nsq.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestFindExactMatch(t *testing.T) {
	path := writeDataset(t, t.TempDir(), testDataset)
	reg, err := Load(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Equal(t, 3, reg.Len())

	t.Run("known batch and manufacturer", func(t *testing.T) {
		row := reg.FindExactMatch("TS-249", "Trimedix Pharma (P) Ltd.")
		require.NotNil(t, row)
		assert.Equal(t, 58, row.ID)
	})

	t.Run("normalises case and whitespace", func(t *testing.T) {
		row := reg.FindExactMatch("  ts-249 ", "trimedix    pharma")
		require.NotNil(t, row)
		assert.Equal(t, 58, row.ID, "first match in load order wins")
	})

	t.Run("different batch", func(t *testing.T) {
		assert.Nil(t, reg.FindExactMatch("TS-250", "Trimedix Pharma (P) Ltd."))
	})

	t.Run("manufacturer must be contained", func(t *testing.T) {
		assert.Nil(t, reg.FindExactMatch("TS-249", "Trimedix Pharma (P) Ltd. Unit III"))
	})

	t.Run("batch must match exactly", func(t *testing.T) {
		assert.Nil(t, reg.FindExactMatch("TS-24", "Trimedix"))
	})
}

func TestLoadMissingDatasetIsEmpty(t *testing.T) {
	reg, err := Load(filepath.Join(t.TempDir(), "absent.json"), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, reg.Len())
	assert.Nil(t, reg.FindExactMatch("TS-249", "Trimedix"))
}

func TestLoadMalformedDataset(t *testing.T) {
	path := writeDataset(t, t.TempDir(), `{"not": "an array"`)
	_, err := Load(path, nil)
	assert.Error(t, err)
}

func TestShippedDatasetContainsTrimedixRecord(t *testing.T) {
	reg, err := Load(filepath.Join("..", DefaultDatasetPath), nil)
	require.NoError(t, err)
	row := reg.FindExactMatch("TS-249", "Trimedix Pharma (P) Ltd.")
	require.NotNil(t, row)
	assert.Equal(t, 58, row.ID)
}

func TestRecordsReturnsCopy(t *testing.T) {
	reg := New([]types.RegistryRecord{{ID: 1, BatchNumber: "B1", Manufacturer: "Acme"}})
	records := reg.Records()
	records[0].ID = 99
	assert.Equal(t, 1, reg.Records()[0].ID)
}

func TestClassifyIssue(t *testing.T) {
	tests := []struct {
		issue string
		want  types.Verdict
	}{
		{"Microbial contamination", types.VerdictAlert},
		{"Impurities above limit", types.VerdictAlert},
		{"Assay of Amoxycillin", types.VerdictAlert},
		{"Dissolution", types.VerdictAlert},
		{"Related substances", types.VerdictAlert},
		{"Description and identification", types.VerdictCaution},
		{"", types.VerdictCaution},
	}
	for _, tt := range tests {
		t.Run(tt.issue, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyIssue(tt.issue))
		})
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := writeDataset(t, dir, `[]`)
	reg, err := Load(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Equal(t, 0, reg.Len())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reg.Watch(ctx) }()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeDataset(t, dir, testDataset)

	assert.Eventually(t, func() bool { return reg.Len() == 3 }, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
