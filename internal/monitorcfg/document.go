package monitorcfg

import (
	"strings"
)

// Document is a decoded monitor configuration. Nested objects are
// map[string]any, the shape encoding/json produces.
type Document map[string]any

const (
	SectionMonitor       = "monitor"
	SectionLiquid        = "liquid"
	SectionProfit        = "profit"
	SectionMarket        = "market"
	SectionPrice         = "price"
	SectionLiquidMonitor = "liquid_monitor"
	SectionProfitMonitor = "profit_monitor"
)

// NotificationChannels are the per-section notification toggles.
var NotificationChannels = []string{"system", "voice", "sms", "tts"}

func notifications(system, voice, sms, tts bool) map[string]any {
	return map[string]any{"system": system, "voice": voice, "sms": sms, "tts": tts}
}

func perSymbol(btc, eth, sol float64) map[string]any {
	return map[string]any{"BTC": btc, "ETH": eth, "SOL": sol}
}

// DefaultDocument returns a fresh copy of the coded defaults.
func DefaultDocument() Document {
	return Document{
		SectionMonitor: map[string]any{
			"loop_seconds": 30.0,
			"enabled": map[string]any{
				"sonic":  true,
				"liquid": true,
				"profit": true,
				"market": true,
				"price":  true,
			},
			"xcom_live": true,
		},
		SectionLiquid: map[string]any{
			"notifications": notifications(true, true, true, true),
			"blast":         perSymbol(5, 5, 5),
		},
		SectionProfit: map[string]any{
			"notifications":  notifications(true, true, false, true),
			"snooze_seconds": 1200.0,
		},
		SectionMarket: map[string]any{
			"notifications": notifications(false, false, false, false),
		},
		SectionPrice: map[string]any{
			"notifications": notifications(false, false, false, false),
		},
		SectionLiquidMonitor: map[string]any{
			"thresholds": perSymbol(1.3, 1.0, 11.5),
			"blast":      perSymbol(5, 5, 5),
		},
		SectionProfitMonitor: map[string]any{
			"snooze_seconds":       1200.0,
			"position_profit_usd":  10.0,
			"portfolio_profit_usd": 40.0,
		},
	}
}

// Clone deep-copies the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Document:
		return map[string]any(t.Clone())
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = cloneValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = cloneValue(vv)
		}
		return out
	default:
		return v
	}
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Document:
		return map[string]any(t), true
	default:
		return nil, false
	}
}

// DeepMerge returns base with overlay applied. Objects merge key by key;
// any other overlay value replaces the base value. Inputs are not modified.
func DeepMerge(base, overlay Document) Document {
	out := base.Clone()
	if out == nil {
		out = Document{}
	}
	mergeInto(out, overlay)
	return out
}

func mergeInto(dst map[string]any, src map[string]any) {
	for k, v := range src {
		srcMap, srcIsMap := asMap(v)
		dstMap, dstIsMap := asMap(dst[k])
		if srcIsMap && dstIsMap {
			mergeInto(dstMap, srcMap)
			continue
		}
		dst[k] = cloneValue(v)
	}
}

// Normalize migrates liquid_monitor.asset_thresholds into
// liquid_monitor.thresholds when the latter is absent. The legacy key is
// kept, so applying Normalize twice gives the same document.
func Normalize(doc Document) Document {
	out := doc.Clone()
	if out == nil {
		return nil
	}
	lm, ok := asMap(out[SectionLiquidMonitor])
	if !ok {
		return out
	}
	if _, has := lm["thresholds"]; has {
		return out
	}
	if legacy, ok := asMap(lm["asset_thresholds"]); ok {
		lm["thresholds"] = cloneValue(legacy)
	}
	return out
}

// Lookup walks a dotted path such as "liquid_monitor.thresholds.BTC".
func (d Document) Lookup(path string) (any, bool) {
	if path == "" {
		return map[string]any(d), d != nil
	}
	var cur any = map[string]any(d)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set assigns value at a dotted path, creating intermediate objects.
func (d Document) Set(path string, value any) {
	parts := strings.Split(path, ".")
	cur := map[string]any(d)
	for _, part := range parts[:len(parts)-1] {
		next, ok := asMap(cur[part])
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}
