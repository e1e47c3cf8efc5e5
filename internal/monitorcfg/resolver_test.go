package monitorcfg

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskeye/internal/models"
)

type stubSettings struct {
	items   map[string][]byte
	readErr error
	saveErr error
}

func newStubSettings() *stubSettings {
	return &stubSettings{items: map[string][]byte{}}
}

func (s *stubSettings) GetSetting(ctx context.Context, key string) (*models.Setting, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	v, ok := s.items[key]
	if !ok {
		return nil, nil
	}
	return &models.Setting{Key: key, Value: v}, nil
}

func (s *stubSettings) SaveSettings(ctx context.Context, items []models.Setting, beforeCommit func() error) error {
	if beforeCommit != nil {
		if err := beforeCommit(); err != nil {
			return err
		}
	}
	if s.saveErr != nil {
		return s.saveErr
	}
	for _, it := range items {
		s.items[it.Key] = it.Value
	}
	return nil
}

func (s *stubSettings) put(t *testing.T, key string, doc Document) {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	s.items[key] = data
}

func writeJSON(t *testing.T, path string, doc Document) {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func staticEnv(vars ...string) func() []string {
	return func() []string { return vars }
}

type fixture struct {
	dir      string
	file     *FileProvider
	settings *stubSettings
	db       *DBProvider
	env      *EnvProvider
}

func newFixture(t *testing.T, envVars ...string) *fixture {
	t.Helper()
	dir := t.TempDir()
	settings := newStubSettings()
	return &fixture{
		dir:      dir,
		file:     NewFileProvider(filepath.Join(dir, "monitor.json")),
		settings: settings,
		db:       &DBProvider{Store: settings, PrimaryKey: "monitor_config", LegacyKey: "sonic_monitor"},
		env:      &EnvProvider{Prefix: "SONIC", BlobVar: "SONIC_MONITOR_CONFIG_JSON", Environ: staticEnv(envVars...)},
	}
}

func (f *fixture) resolver(policy Policy) *Resolver {
	return NewResolver(policy, f.file, f.db, f.env, nil)
}

func TestLoadFallsBackToDefaults(t *testing.T) {
	f := newFixture(t)
	res, err := f.resolver(PolicyJSONFirst).Load(context.Background(), DocumentMonitor)
	require.NoError(t, err)

	assert.Equal(t, DefaultDocument(), res.Document)
	assert.Empty(t, res.Errors)
	assert.Contains(t, res.Warnings, "json missing: "+f.file.Path)
	assert.Equal(t, map[Layer]string{LayerDefault: "coded defaults"}, res.Sources)
}

func TestLoadRejectsUnknownDocument(t *testing.T) {
	f := newFixture(t)
	_, err := f.resolver(PolicyJSONFirst).Load(context.Background(), "market_monitor")
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.True(t, errors.Is(err, ErrUnsupportedDocument))
}

func TestLoadPrecedence(t *testing.T) {
	envDoc := Document{"monitor": map[string]any{"loop_seconds": 5.0}, "price": map[string]any{"notifications": map[string]any{"sms": true}}}
	dbDoc := Document{"monitor": map[string]any{"loop_seconds": 10.0}, "liquid_monitor": map[string]any{"thresholds": map[string]any{"BTC": 2.0}}}
	jsonDoc := Document{"monitor": map[string]any{"loop_seconds": 20.0}, "profit_monitor": map[string]any{"position_profit_usd": 99.0}}

	blob, err := json.Marshal(envDoc)
	require.NoError(t, err)

	for _, tc := range []struct {
		policy   Policy
		wantLoop float64
		layers   []Document
	}{
		{PolicyJSONFirst, 20, []Document{envDoc, dbDoc, jsonDoc}},
		{PolicyDBFirst, 10, []Document{envDoc, jsonDoc, dbDoc}},
	} {
		t.Run(string(tc.policy), func(t *testing.T) {
			f := newFixture(t, "SONIC_MONITOR_CONFIG_JSON="+string(blob))
			f.settings.put(t, "monitor_config", dbDoc)
			writeJSON(t, f.file.Path, jsonDoc)

			res, err := f.resolver(tc.policy).Load(context.Background(), DocumentMonitor)
			require.NoError(t, err)

			want := DefaultDocument()
			for _, layer := range tc.layers {
				want = DeepMerge(want, layer)
			}
			assert.Equal(t, Normalize(want), res.Document)
			assert.Equal(t, tc.wantLoop, mustLookup(t, res.Document, "monitor.loop_seconds"))

			// non-overlapping keys from every layer survive
			assert.Equal(t, true, mustLookup(t, res.Document, "price.notifications.sms"))
			assert.Equal(t, 2.0, mustLookup(t, res.Document, "liquid_monitor.thresholds.BTC"))
			assert.Equal(t, 99.0, mustLookup(t, res.Document, "profit_monitor.position_profit_usd"))

			assert.Equal(t, tc.policy, res.Policy)
			assert.Equal(t, "db:monitor_config", res.Sources[LayerDB])
			assert.Equal(t, f.file.Path, res.Sources[LayerJSON])
			assert.Equal(t, "env:SONIC_MONITOR_CONFIG_JSON", res.Sources[LayerEnv])
		})
	}
}

func TestLoadUsesLegacyDBKey(t *testing.T) {
	f := newFixture(t)
	f.settings.put(t, "sonic_monitor", Document{"monitor": map[string]any{"loop_seconds": 45.0}})

	res, err := f.resolver(PolicyDBFirst).Load(context.Background(), DocumentMonitor)
	require.NoError(t, err)
	assert.Equal(t, 45.0, mustLookup(t, res.Document, "monitor.loop_seconds"))
	assert.Equal(t, "db:sonic_monitor", res.Sources[LayerDB])
}

func TestLoadNormalizesLegacyThresholds(t *testing.T) {
	f := newFixture(t)
	writeJSON(t, f.file.Path, Document{
		"liquid_monitor": map[string]any{"asset_thresholds": map[string]any{"DOGE": 7.0}},
	})

	res, err := f.resolver(PolicyJSONFirst).Load(context.Background(), DocumentMonitor)
	require.NoError(t, err)
	// defaults already carry thresholds, so the legacy branch only fills its own layer
	assert.Equal(t, 7.0, mustLookup(t, res.Document, "liquid_monitor.thresholds.DOGE"))
	assert.Equal(t, 1.3, mustLookup(t, res.Document, "liquid_monitor.thresholds.BTC"))
}

func TestLoadTargetedEnvVars(t *testing.T) {
	f := newFixture(t, "SONIC_LOOP_SECONDS=12", "SONIC_XCOM_LIVE=false", "SONIC_ENABLED_MARKET=0", "SONIC_ENABLED_PRICE=maybe")

	res, err := f.resolver(PolicyJSONFirst).Load(context.Background(), DocumentMonitor)
	require.NoError(t, err)
	assert.Equal(t, 12.0, mustLookup(t, res.Document, "monitor.loop_seconds"))
	assert.Equal(t, false, mustLookup(t, res.Document, "monitor.xcom_live"))
	assert.Equal(t, false, mustLookup(t, res.Document, "monitor.enabled.market"))
	assert.Equal(t, true, mustLookup(t, res.Document, "monitor.enabled.price"))
	assert.Contains(t, res.Warnings, `env: SONIC_ENABLED_PRICE: not a boolean: "maybe"`)
}

func TestLoadReportsUnreadableLayers(t *testing.T) {
	f := newFixture(t)
	f.settings.readErr = errors.New("database is locked")
	require.NoError(t, os.WriteFile(f.file.Path, []byte("{not json"), 0644))

	res, err := f.resolver(PolicyJSONFirst).Load(context.Background(), DocumentMonitor)
	require.NoError(t, err)
	assert.Equal(t, DefaultDocument(), res.Document)
	require.Len(t, res.Warnings, 2)
	assert.Contains(t, res.Warnings[0], "database is locked")
	assert.Contains(t, res.Warnings[1], "parse json")
}

func TestLoadReportsValidationErrors(t *testing.T) {
	f := newFixture(t)
	writeJSON(t, f.file.Path, Document{"monitor": map[string]any{"loop_seconds": "fast"}})

	res, err := f.resolver(PolicyJSONFirst).Load(context.Background(), DocumentMonitor)
	require.NoError(t, err)
	assert.Contains(t, res.Errors, "monitor.loop_seconds must be a number")
}

func TestSaveWritesFileAndBothKeys(t *testing.T) {
	f := newFixture(t)
	r := f.resolver(PolicyJSONFirst)
	doc := DefaultDocument()
	doc.Set("monitor.loop_seconds", 15.0)

	res, err := r.Save(context.Background(), DocumentMonitor, doc)
	require.NoError(t, err)
	require.True(t, res.OK, res.Errors)
	assert.Equal(t, f.file.Path, res.JSONPath)
	assert.Empty(t, res.BackupPath)
	assert.Equal(t, []string{"monitor_config", "sonic_monitor"}, res.DBKeys)

	onDisk, err := readDocument(f.file.Path)
	require.NoError(t, err)
	assert.Equal(t, 15.0, mustLookup(t, onDisk, "monitor.loop_seconds"))
	assert.JSONEq(t, string(f.settings.items["monitor_config"]), string(f.settings.items["sonic_monitor"]))

	// second save rotates the first file into a backup
	doc.Set("monitor.loop_seconds", 25.0)
	res, err = r.Save(context.Background(), DocumentMonitor, doc)
	require.NoError(t, err)
	require.True(t, res.OK)
	require.NotEmpty(t, res.BackupPath)

	backup, err := readDocument(res.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, 15.0, mustLookup(t, backup, "monitor.loop_seconds"))

	loaded, err := r.Load(context.Background(), DocumentMonitor)
	require.NoError(t, err)
	assert.Equal(t, 25.0, mustLookup(t, loaded.Document, "monitor.loop_seconds"))
}

func TestSaveFailsClosedOnValidationError(t *testing.T) {
	f := newFixture(t)
	writeJSON(t, f.file.Path, Document{"monitor": map[string]any{"loop_seconds": 30.0}})
	before, err := os.ReadFile(f.file.Path)
	require.NoError(t, err)

	doc := DefaultDocument()
	doc.Set("profit.notifications.sms", "sometimes")

	res, err := f.resolver(PolicyJSONFirst).Save(context.Background(), DocumentMonitor, doc)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Contains(t, res.Errors, "profit.notifications.sms must be a boolean")

	after, err := os.ReadFile(f.file.Path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Empty(t, f.settings.items)

	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no backup is written for a rejected save")
}

func TestSaveRestoresFileWhenCommitFails(t *testing.T) {
	f := newFixture(t)
	writeJSON(t, f.file.Path, Document{"monitor": map[string]any{"loop_seconds": 30.0}})
	f.settings.saveErr = errors.New("disk I/O error")

	doc := DefaultDocument()
	doc.Set("monitor.loop_seconds", 99.0)
	res, err := f.resolver(PolicyJSONFirst).Save(context.Background(), DocumentMonitor, doc)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Contains(t, res.Errors, "disk I/O error")

	onDisk, err := readDocument(f.file.Path)
	require.NoError(t, err)
	assert.Equal(t, 30.0, mustLookup(t, onDisk, "monitor.loop_seconds"))
}

func TestGetDottedPath(t *testing.T) {
	f := newFixture(t)
	r := f.resolver(PolicyJSONFirst)

	v, err := r.Get(context.Background(), DocumentMonitor, "liquid_monitor.thresholds.ETH", nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	v, err = r.Get(context.Background(), DocumentMonitor, "liquid_monitor.thresholds.DOGE", 4.2)
	require.NoError(t, err)
	assert.Equal(t, 4.2, v)
}

func TestResolverToggles(t *testing.T) {
	f := newFixture(t, "SONIC_LOOP_SECONDS=2.5", "SONIC_ENABLED_SONIC=false")
	r := f.resolver(PolicyJSONFirst)

	// before any load the defaults apply
	assert.True(t, r.MonitorEnabled("sonic"))
	assert.Equal(t, 30*time.Second, r.LoopInterval())

	_, err := r.Load(context.Background(), DocumentMonitor)
	require.NoError(t, err)
	assert.False(t, r.MonitorEnabled("sonic"))
	assert.Equal(t, 2500*time.Millisecond, r.LoopInterval())
	assert.False(t, r.ChannelEnabled("price", "sms"))
	assert.True(t, r.ChannelEnabled("liquid", "voice"))
	assert.True(t, r.ChannelEnabled("unknown", "sms"))
}

func TestSetPolicy(t *testing.T) {
	f := newFixture(t)
	r := f.resolver(PolicyJSONFirst)
	r.SetPolicy(PolicyDBFirst)
	assert.Equal(t, PolicyDBFirst, r.Policy())

	p, err := ParsePolicy("db_first")
	require.NoError(t, err)
	assert.Equal(t, PolicyDBFirst, p)
	_, err = ParsePolicy("ENV_FIRST")
	assert.Error(t, err)
}

func TestCacheRefreshesOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "monitor.json")
	cache := NewCache(path)

	doc, err := cache.Get()
	require.NoError(t, err)
	assert.Nil(t, doc)

	writeJSON(t, path, Document{"monitor": map[string]any{"loop_seconds": 1.0}})
	doc, err = cache.Get()
	require.NoError(t, err)
	assert.Equal(t, 1.0, mustLookup(t, doc, "monitor.loop_seconds"))

	writeJSON(t, path, Document{"monitor": map[string]any{"loop_seconds": 22.0}})
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))
	doc, err = cache.Get()
	require.NoError(t, err)
	assert.Equal(t, 22.0, mustLookup(t, doc, "monitor.loop_seconds"))

	// mutating the returned copy does not leak into the cache
	doc.Set("monitor.loop_seconds", 0.0)
	cache.Invalidate()
	doc, err = cache.Get()
	require.NoError(t, err)
	assert.Equal(t, 22.0, mustLookup(t, doc, "monitor.loop_seconds"))
}
