package monitorcfg

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

var knownSections = map[string]bool{
	SectionMonitor:       true,
	SectionLiquid:        true,
	SectionProfit:        true,
	SectionMarket:        true,
	SectionPrice:         true,
	SectionLiquidMonitor: true,
	SectionProfitMonitor: true,
}

var notificationSections = []string{SectionLiquid, SectionProfit, SectionMarket, SectionPrice}

var profitNumericFields = []string{"snooze_seconds", "position_profit_usd", "portfolio_profit_usd"}

// Validate runs structural checks only. Errors make a document unsavable;
// warnings are informational.
func Validate(doc Document) (errs []string, warnings []string) {
	if doc == nil {
		return []string{"document is empty"}, nil
	}

	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !knownSections[k] {
			warnings = append(warnings, fmt.Sprintf("unknown section %q", k))
		}
	}

	if raw, ok := doc[SectionMonitor]; ok {
		monitor, isMap := asMap(raw)
		if !isMap {
			errs = append(errs, "monitor must be an object")
		} else {
			if v, ok := monitor["loop_seconds"]; ok {
				if n, isNum := toNumber(v); !isNum {
					errs = append(errs, "monitor.loop_seconds must be a number")
				} else if n <= 0 {
					warnings = append(warnings, "monitor.loop_seconds should be positive")
				}
			}
			if v, ok := monitor["enabled"]; ok {
				enabled, isMap := asMap(v)
				if !isMap {
					errs = append(errs, "monitor.enabled must be an object")
				} else {
					for _, name := range sortedKeys(enabled) {
						if _, isBool := enabled[name].(bool); !isBool {
							errs = append(errs, fmt.Sprintf("monitor.enabled.%s must be a boolean", name))
						}
					}
				}
			}
			if v, ok := monitor["xcom_live"]; ok {
				if _, isBool := v.(bool); !isBool {
					errs = append(errs, "monitor.xcom_live must be a boolean")
				}
			}
		}
	}

	for _, section := range notificationSections {
		raw, ok := doc[section]
		if !ok {
			continue
		}
		sec, isMap := asMap(raw)
		if !isMap {
			errs = append(errs, fmt.Sprintf("%s must be an object", section))
			continue
		}
		v, ok := sec["notifications"]
		if !ok {
			continue
		}
		notif, isMap := asMap(v)
		if !isMap {
			errs = append(errs, fmt.Sprintf("%s.notifications must be an object", section))
			continue
		}
		for _, ch := range NotificationChannels {
			if val, ok := notif[ch]; ok {
				if _, isBool := val.(bool); !isBool {
					errs = append(errs, fmt.Sprintf("%s.notifications.%s must be a boolean", section, ch))
				}
			}
		}
	}

	if raw, ok := doc[SectionLiquidMonitor]; ok {
		lm, isMap := asMap(raw)
		if !isMap {
			errs = append(errs, "liquid_monitor must be an object")
		} else {
			if v, ok := lm["thresholds"]; ok {
				th, isMap := asMap(v)
				if !isMap {
					errs = append(errs, "liquid_monitor.thresholds must be an object")
				} else {
					for _, sym := range sortedKeys(th) {
						if _, isNum := toNumber(th[sym]); !isNum {
							errs = append(errs, fmt.Sprintf("liquid_monitor.thresholds.%s must be a number", sym))
						}
					}
				}
			}
			if v, ok := lm["blast"]; ok {
				blast, isMap := asMap(v)
				if !isMap {
					errs = append(errs, "liquid_monitor.blast must be an object")
				} else {
					for _, sym := range sortedKeys(blast) {
						n, isNum := toNumber(blast[sym])
						if !isNum || n != math.Trunc(n) {
							errs = append(errs, fmt.Sprintf("liquid_monitor.blast.%s must be an integer", sym))
						}
					}
				}
			}
		}
	}

	if raw, ok := doc[SectionProfitMonitor]; ok {
		pm, isMap := asMap(raw)
		if !isMap {
			errs = append(errs, "profit_monitor must be an object")
		} else {
			for _, field := range profitNumericFields {
				if v, ok := pm[field]; ok {
					if _, isNum := toNumber(v); !isNum {
						errs = append(errs, fmt.Sprintf("profit_monitor.%s must be a number", field))
					}
				}
			}
		}
	}

	return errs, warnings
}

// toNumber accepts the numeric shapes a document can hold. Booleans and
// strings are not numbers here.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
