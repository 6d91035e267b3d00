package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeCommand(root *cobra.Command, args ...string) (string, error) {
	// persistent flags keep their values between executions
	cfgFile, logLevel, logFormat = "", "", ""

	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

var weeklyPattern = []float64{1.0, 1.1, 1.2, 1.1, 1.0, 0.6, 0.5}

// writeDataset writes 35 days of a weekly pattern for two sites: A runs at
// half capacity, B peaks above it.
func writeDataset(t *testing.T) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("date,site,volume,capacity\n")
	day0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, site := range []struct {
		id       string
		capacity float64
	}{{"A", 200}, {"B", 100}} {
		for i := 0; i < 35; i++ {
			fmt.Fprintf(&b, "%s,%s,%s,%s\n",
				day0.AddDate(0, 0, i).Format("2006-01-02"), site.id,
				strconv.FormatFloat(100*weeklyPattern[i%7], 'f', -1, 64),
				strconv.FormatFloat(site.capacity, 'f', -1, 64))
		}
	}
	path := filepath.Join(t.TempDir(), "demand.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0644))
	return path
}

// writeConfig writes a config file keeping every store under a temp dir
func writeConfig(t *testing.T, extra string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf("store:\n  dir: %s\nartifacts:\n  dir: %s\nlog:\n  level: error\n",
		filepath.Join(dir, "data"), filepath.Join(dir, "artifacts")) + extra
	path := filepath.Join(dir, "pythia.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path, dir
}

func TestRunFromCSV(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")
	input := writeDataset(t)
	out := t.TempDir()

	output, err := executeCommand(rootCmd, "run", "--config", cfgPath, "--input", input, "--output", out,
		"--horizon", "7", "--window", "7")
	require.NoError(t, err)

	assert.Contains(t, output, "Forecasts: 14  GREEN: 9  YELLOW: 0  RED: 5  Excluded: 0")
	assert.Contains(t, output, "MAE 0.000")
	assert.Contains(t, output, "Top priorities:")
	assert.Contains(t, output, "2024-02-07") // B's 1.2 peak ranks first

	for _, name := range []string{
		"forecast_by_site_day.csv", "forecast_overall_day.csv", "utilization_by_site_day.csv",
		"risk_assessments.csv", "decision_recommendations.csv", "top_risk.csv",
		"backtest_by_site.csv", "backtest_overall.csv", "backtest_comparisons.csv", "exclusions.csv",
	} {
		assert.FileExists(t, filepath.Join(out, name))
	}

	data, err := os.ReadFile(filepath.Join(out, "forecast_by_site_day.csv"))
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 15)
}

func TestRunFailsWithoutBacktestData(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")

	_, err := executeCommand(rootCmd, "run", "--config", cfgPath, "--input", writeDataset(t), "--output", t.TempDir(),
		"--horizon", "7", "--window", "56")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 sites excluded")
}

func TestForecastSkipsBacktest(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")
	out := t.TempDir()

	output, err := executeCommand(rootCmd, "forecast", "--config", cfgPath, "--input", writeDataset(t), "--output", out,
		"--horizon", "3")
	require.NoError(t, err)

	assert.Contains(t, output, "Forecasts: 6")
	assert.NotContains(t, output, "Backtest")
	assert.FileExists(t, filepath.Join(out, "forecast_overall_day.csv"))
	assert.NoFileExists(t, filepath.Join(out, "backtest_overall.csv"))
}

func TestBacktestCommand(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")
	out := t.TempDir()

	output, err := executeCommand(rootCmd, "backtest", "--config", cfgPath, "--input", writeDataset(t), "--output", out,
		"--window", "14")
	require.NoError(t, err)

	assert.Contains(t, output, "MAE 0.000")
	assert.Contains(t, output, "n=28")
	assert.Contains(t, output, "  A: MAE 0.000")
	assert.FileExists(t, filepath.Join(out, "backtest_by_site.csv"))
}

func TestIngestThenRunFromStore(t *testing.T) {
	cfgPath, dir := writeConfig(t, "")

	output, err := executeCommand(rootCmd, "ingest", "--config", cfgPath, "--input", writeDataset(t))
	require.NoError(t, err)
	assert.Contains(t, output, "Ingested 70 observations for 2 sites")
	assert.FileExists(t, filepath.Join(dir, "data", "pythia_capacities.json"))

	output, err = executeCommand(rootCmd, "run", "--config", cfgPath, "--input", "", "--output", "",
		"--horizon", "7", "--window", "7")
	require.NoError(t, err)
	assert.Contains(t, output, "RED: 5")
	assert.Contains(t, output, "runs/")

	entries, err := os.ReadDir(filepath.Join(dir, "artifacts", "runs"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestIngestRequiresOneSource(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")

	_, err := executeCommand(rootCmd, "ingest", "--config", cfgPath, "--input", "")
	assert.Error(t, err)
}

func TestPolicyValidate(t *testing.T) {
	dir := t.TempDir()
	valid := filepath.Join(dir, "valid.yaml")
	require.NoError(t, os.WriteFile(valid, []byte(`
thresholds:
  green_yellow: 0.8
  yellow_red: 0.95
rules:
  - name: severe
    condition: 'ratio >= 1.5'
    action: Divert inbound volume
`), 0644))
	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("thresholds:\n  green_yellow: 1.2\n  yellow_red: 1.0\n"), 0644))

	output, err := executeCommand(rootCmd, "policy", "validate", valid)
	require.NoError(t, err)
	assert.Contains(t, output, "Policy is valid: GREEN < 0.8 <= YELLOW < 0.95 <= RED, 1 rules")

	_, err = executeCommand(rootCmd, "policy", "validate", invalid)
	assert.Error(t, err)
}

func TestPolicyApplyAndShow(t *testing.T) {
	cfgPath, dir := writeConfig(t, "")
	policy := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(policy, []byte("thresholds:\n  green_yellow: 0.7\n  yellow_red: 0.9\n"), 0644))

	// the local backend keeps the policy in memory, seeded then replaced
	output, err := executeCommand(rootCmd, "policy", "apply", "--config", cfgPath, policy)
	require.NoError(t, err)
	assert.Contains(t, output, "Policy applied, version 2")

	output, err = executeCommand(rootCmd, "policy", "show", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, output, "green_yellow: 0.85")
}

func TestConfigCommands(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")

	output, err := executeCommand(rootCmd, "config", "get", "horizon_days", "--config", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "14\n", output)

	output, err = executeCommand(rootCmd, "config", "set", "horizon_days", "21", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, output, "Set horizon_days to 21")

	output, err = executeCommand(rootCmd, "config", "get", "horizon_days", "--config", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "21\n", output)

	_, err = executeCommand(rootCmd, "config", "set", "horizon_days", "0", "--config", cfgPath)
	assert.Error(t, err)

	output, err = executeCommand(rootCmd, "config", "get", "no_such_key", "--config", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "Not set\n", output)
}

func TestConfigViewRedactsSecrets(t *testing.T) {
	cfgPath, _ := writeConfig(t, "redis:\n  password: hunter2\n")

	output, err := executeCommand(rootCmd, "config", "view", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, output, "redis.password: ********")
	assert.NotContains(t, output, "hunter2")
	assert.Contains(t, output, "season_length: 7")
}

func TestAuditVerify(t *testing.T) {
	dir := t.TempDir()
	cfgPath, _ := writeConfig(t, fmt.Sprintf("audit:\n  file: %s\n  secret: s3cret\n", filepath.Join(dir, "audit.log")))
	input := writeDataset(t)

	for i := 0; i < 2; i++ {
		_, err := executeCommand(rootCmd, "run", "--config", cfgPath, "--input", input, "--output", t.TempDir(),
			"--horizon", "7", "--window", "7")
		require.NoError(t, err)
	}

	output, err := executeCommand(rootCmd, "audit", "verify", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, output, "Audit chain intact: 4 events")
}
