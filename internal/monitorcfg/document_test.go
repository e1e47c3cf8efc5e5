package monitorcfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeepMergeMergesObjectsAndOverwritesScalars(t *testing.T) {
	base := Document{
		"monitor": map[string]any{
			"loop_seconds": 30.0,
			"enabled":      map[string]any{"sonic": true, "liquid": true},
		},
		"list": []any{1.0, 2.0},
	}
	overlay := Document{
		"monitor": map[string]any{
			"enabled": map[string]any{"liquid": false},
		},
		"list": []any{3.0},
	}

	got := DeepMerge(base, overlay)

	assert.Equal(t, 30.0, mustLookup(t, got, "monitor.loop_seconds"))
	assert.Equal(t, true, mustLookup(t, got, "monitor.enabled.sonic"))
	assert.Equal(t, false, mustLookup(t, got, "monitor.enabled.liquid"))
	assert.Equal(t, []any{3.0}, got["list"])

	// inputs are untouched
	assert.Equal(t, true, mustLookup(t, base, "monitor.enabled.liquid"))
}

func TestDeepMergeObjectReplacesScalar(t *testing.T) {
	got := DeepMerge(Document{"a": 1.0}, Document{"a": map[string]any{"b": 2.0}})
	assert.Equal(t, 2.0, mustLookup(t, got, "a.b"))

	got = DeepMerge(Document{"a": map[string]any{"b": 2.0}}, Document{"a": "flat"})
	assert.Equal(t, "flat", got["a"])
}

func TestNormalizeMigratesAssetThresholds(t *testing.T) {
	doc := Document{
		"liquid_monitor": map[string]any{
			"asset_thresholds": map[string]any{"BTC": 2.5, "ETH": 1.5},
		},
	}

	once := Normalize(doc)
	assert.Equal(t, 2.5, mustLookup(t, once, "liquid_monitor.thresholds.BTC"))
	assert.Equal(t, 2.5, mustLookup(t, once, "liquid_monitor.asset_thresholds.BTC"))

	twice := Normalize(once)
	assert.Equal(t, once, twice)

	_, present := doc.Lookup("liquid_monitor.thresholds")
	assert.False(t, present, "Normalize must not modify its input")
}

func TestNormalizeKeepsExistingThresholds(t *testing.T) {
	doc := Document{
		"liquid_monitor": map[string]any{
			"thresholds":       map[string]any{"BTC": 9.0},
			"asset_thresholds": map[string]any{"BTC": 2.5},
		},
	}
	got := Normalize(doc)
	assert.Equal(t, 9.0, mustLookup(t, got, "liquid_monitor.thresholds.BTC"))
}

func TestDefaultDocumentIsValid(t *testing.T) {
	errs, warnings := Validate(DefaultDocument())
	assert.Empty(t, errs)
	assert.Empty(t, warnings)

	a := DefaultDocument()
	a.Set("monitor.loop_seconds", 1.0)
	assert.Equal(t, 30.0, mustLookup(t, DefaultDocument(), "monitor.loop_seconds"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(Document)
		wantErr string
		wantOK  bool
	}{
		{name: "defaults", mutate: func(Document) {}, wantOK: true},
		{name: "monitor not object", mutate: func(d Document) { d["monitor"] = "x" }, wantErr: "monitor must be an object"},
		{name: "loop seconds string", mutate: func(d Document) { d.Set("monitor.loop_seconds", "30") }, wantErr: "monitor.loop_seconds must be a number"},
		{name: "loop seconds bool", mutate: func(d Document) { d.Set("monitor.loop_seconds", true) }, wantErr: "monitor.loop_seconds must be a number"},
		{name: "enabled not object", mutate: func(d Document) { d.Set("monitor.enabled", []any{}) }, wantErr: "monitor.enabled must be an object"},
		{name: "notification not bool", mutate: func(d Document) { d.Set("profit.notifications.sms", "yes") }, wantErr: "profit.notifications.sms must be a boolean"},
		{name: "notifications not object", mutate: func(d Document) { d.Set("price.notifications", 1.0) }, wantErr: "price.notifications must be an object"},
		{name: "threshold not number", mutate: func(d Document) { d.Set("liquid_monitor.thresholds.BTC", "high") }, wantErr: "liquid_monitor.thresholds.BTC must be a number"},
		{name: "blast not integer", mutate: func(d Document) { d.Set("liquid_monitor.blast.SOL", 2.5) }, wantErr: "liquid_monitor.blast.SOL must be an integer"},
		{name: "snooze not number", mutate: func(d Document) { d.Set("profit_monitor.snooze_seconds", nil) }, wantErr: "profit_monitor.snooze_seconds must be a number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := DefaultDocument()
			tt.mutate(doc)
			errs, _ := Validate(doc)
			if tt.wantOK {
				assert.Empty(t, errs)
				return
			}
			assert.Contains(t, errs, tt.wantErr)
		})
	}
}

func TestValidateWarnsOnUnknownSection(t *testing.T) {
	doc := DefaultDocument()
	doc["twilio"] = map[string]any{}
	doc.Set("monitor.loop_seconds", 0.0)

	errs, warnings := Validate(doc)
	assert.Empty(t, errs)
	assert.Contains(t, warnings, `unknown section "twilio"`)
	assert.Contains(t, warnings, "monitor.loop_seconds should be positive")
}

func TestLookup(t *testing.T) {
	doc := DefaultDocument()
	v, ok := doc.Lookup("liquid_monitor.thresholds.SOL")
	require.True(t, ok)
	assert.Equal(t, 11.5, v)

	_, ok = doc.Lookup("liquid_monitor.thresholds.DOGE")
	assert.False(t, ok)
	_, ok = doc.Lookup("monitor.loop_seconds.deeper")
	assert.False(t, ok)
}

func mustLookup(t *testing.T, doc Document, path string) any {
	t.Helper()
	v, ok := doc.Lookup(path)
	require.True(t, ok, "missing %s", path)
	return v
}
