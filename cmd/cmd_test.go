package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rxtrust/rxtrust-api/localstore"
	"github.com/rxtrust/rxtrust-api/types"
	"github.com/rxtrust/rxtrust-api/version"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	color.NoColor = true
	dbPath := filepath.Join(t.TempDir(), "rxtrust.db")
	t.Setenv("RXTRUST_DB_PATH", dbPath)
	t.Setenv("RXTRUST_REGISTRY_PATH", "../data/cdsco_nsq_dec25_subset.json")
	t.Setenv("RXTRUST_TELEMETRY_OPTOUT", "true")
	return dbPath
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionFlag(t *testing.T) {
	out, err := run(t, "", "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "rxtrust version: "+version.Version)
}

func TestAuditJSON(t *testing.T) {
	setupEnv(t)
	out, err := run(t, "", "audit", "--product", "Paracetamol", "--batch", "A123", "--manufacturer", "ABC Labs", "--json")
	require.NoError(t, err)

	var resp types.AuditResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, types.VerdictCaution, resp.Verdict)
	assert.Equal(t, 42, resp.RiskScore)
	assert.Len(t, resp.Evidence, 3)
	assert.False(t, resp.Cached)

	out, err = run(t, "", "audit", "--product", "paracetamol", "--batch", "a123", "--manufacturer", "abc labs", "--json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Cached, "case-insensitive repeat is served from cache")
}

func TestAuditTextWithGuardian(t *testing.T) {
	setupEnv(t)
	out, err := run(t, "", "audit", "--product", "Olmesartan", "--batch", "OLM24120", "--manufacturer", "Olmax",
		"--diabetes", "--allergy", "sucrose")
	require.NoError(t, err)

	assert.Contains(t, out, "Verdict: ALERT")
	assert.Contains(t, out, "Exact NSQ batch match found.")
	assert.Contains(t, out, "Guardian: +60")
	assert.Contains(t, out, "[CDSCO]")
}

func TestAuditRejectsShortFields(t *testing.T) {
	setupEnv(t)
	_, err := run(t, "", "audit", "--product", "P", "--batch", "A123", "--manufacturer", "ABC Labs")
	var verrs types.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "product_name", verrs[0].Field)
}

func TestAuditRequiresFlags(t *testing.T) {
	setupEnv(t)
	_, err := run(t, "", "audit", "--product", "Paracetamol")
	assert.Error(t, err)
}

func TestAuditRecordsTrail(t *testing.T) {
	dbPath := setupEnv(t)
	_, err := run(t, "", "audit", "--product", "Paracetamol", "--batch", "A123", "--manufacturer", "ABC Labs", "--json")
	require.NoError(t, err)

	store, err := localstore.Open(dbPath, localstore.Options{MemoryEntries: -1})
	require.NoError(t, err)
	defer store.Close()
	res, err := store.QueryEvents(context.Background(), localstore.EventQueryFilters{}, 1, 10)
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, "A123", res.Events[0].BatchNumber)
}

func TestCacheCommands(t *testing.T) {
	setupEnv(t)
	_, err := run(t, "", "audit", "--product", "Paracetamol", "--batch", "A123", "--manufacturer", "ABC Labs", "--json")
	require.NoError(t, err)

	out, err := run(t, "", "cache", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Entries:  1")

	out, err = run(t, "", "cache", "purge")
	require.NoError(t, err)
	assert.Contains(t, out, "Purged 0 expired cache entries.")

	out, err = run(t, "n\n", "cache", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Operation cancelled.")

	out, err = run(t, "", "cache", "clear", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 1 cache entries.")

	out, err = run(t, "", "cache", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Entries:  0")
}

func TestRegistryCases(t *testing.T) {
	setupEnv(t)
	out, err := run(t, "", "registry", "cases")
	require.NoError(t, err)
	assert.Contains(t, out, "OLM24120")
	assert.Contains(t, out, "TS-249")
	assert.Equal(t, 7, strings.Count(out, "\n"), "header plus six records")
}

func TestExplicitConfigMustExist(t *testing.T) {
	setupEnv(t)
	_, err := run(t, "", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "registry", "cases")
	assert.Error(t, err)
}
