package threshold

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/riskeye/internal/metrics"
	"github.com/riskeye/internal/monitorcfg"
	"github.com/riskeye/internal/repository"
)

type Source string

const (
	SourceFile    Source = "FILE"
	SourceDB      Source = "DB"
	SourceEnv     Source = "ENV"
	SourceDefault Source = "DEFAULT"
)

// Trace records which layer supplied a resolved value.
type Trace struct {
	Monitor  string  `json:"monitor"`
	Key      string  `json:"key"`
	Value    float64 `json:"value"`
	Source   Source  `json:"source"`
	Layer    string  `json:"layer"`
	Evidence string  `json:"evidence"`
}

// LayerValue is one row of an inspection: what a layer holds for the key.
type LayerValue struct {
	Source Source   `json:"source"`
	Layer  string   `json:"layer"`
	Value  *float64 `json:"value"`
}

type Inspection struct {
	Trace  Trace        `json:"trace"`
	Layers []LayerValue `json:"layers"`
}

// FileSource yields the current JSON config file, or nil when absent.
// *monitorcfg.Cache implements it.
type FileSource interface {
	Get() (monitorcfg.Document, error)
}

var (
	liquidDefaults = map[string]float64{"BTC": 5.3, "ETH": 111.0, "SOL": 11.5}
	profitDefaults = map[string]float64{"position_profit_usd": 10, "portfolio_profit_usd": 40}
	snoozeDefaults = map[string]float64{"profit": 1200}
)

const (
	liquidFallback = 1.0
	blastDefault   = 5.0
)

// Resolver walks file, legacy file branch, db blob, env and coded defaults
// in that order and stops at the first layer holding a numeric value.
type Resolver struct {
	file      FileSource
	settings  repository.SettingRepository
	dbKey     string
	lookupEnv func(string) (string, bool)
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

type Option func(*Resolver)

func WithEnvLookup(fn func(string) (string, bool)) Option {
	return func(r *Resolver) { r.lookupEnv = fn }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

func NewResolver(file FileSource, settings repository.SettingRepository, dbKey string, opts ...Option) *Resolver {
	r := &Resolver{
		file:      file,
		settings:  settings,
		dbKey:     dbKey,
		lookupEnv: os.LookupEnv,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("threshold")
	return r
}

type layer struct {
	source   Source
	name     string
	evidence string
	value    any
	present  bool
}

type sources struct {
	file monitorcfg.Document
	db   monitorcfg.Document
}

func (r *Resolver) load(ctx context.Context) sources {
	var s sources
	if r.file != nil {
		doc, err := r.file.Get()
		if err != nil {
			r.logger.Warn("config file unreadable, skipping file layers", zap.Error(err))
		}
		s.file = doc
	}
	if r.settings != nil && r.dbKey != "" {
		item, err := r.settings.GetSetting(ctx, r.dbKey)
		switch {
		case err != nil:
			r.logger.Warn("threshold blob unreadable, skipping db layer", zap.String("key", r.dbKey), zap.Error(err))
		case item != nil && len(item.Value) > 0:
			var doc monitorcfg.Document
			if err := json.Unmarshal(item.Value, &doc); err != nil {
				r.logger.Warn("threshold blob is not a json object", zap.String("key", r.dbKey), zap.Error(err))
			} else {
				s.db = doc
			}
		}
	}
	return s
}

func (r *Resolver) fileLayer(doc monitorcfg.Document, path string) layer {
	l := layer{source: SourceFile, name: path, evidence: "JSON config file"}
	if doc != nil {
		l.value, l.present = doc.Lookup(path)
	}
	return l
}

func (r *Resolver) dbLayer(doc monitorcfg.Document, path string) layer {
	l := layer{source: SourceDB, name: r.dbKey + "." + path, evidence: "DB: " + r.dbKey}
	if doc != nil {
		l.value, l.present = doc.Lookup(path)
	}
	return l
}

func (r *Resolver) envLayer(name string) layer {
	l := layer{source: SourceEnv, name: name, evidence: "process env"}
	if v, ok := r.lookupEnv(name); ok && strings.TrimSpace(v) != "" {
		l.value, l.present = strings.TrimSpace(v), true
	}
	return l
}

func defaultLayer(value float64, evidence string) layer {
	return layer{source: SourceDefault, name: "default", evidence: evidence, value: value, present: true}
}

func (r *Resolver) resolve(monitor, key string, layers []layer) Trace {
	for _, l := range layers {
		if !l.present {
			continue
		}
		v, ok := toFloat(l.value)
		if !ok {
			r.logger.Warn("ignoring non-numeric threshold value",
				zap.String("monitor", monitor),
				zap.String("key", key),
				zap.String("layer", l.name),
				zap.Any("value", l.value),
			)
			continue
		}
		trace := Trace{Monitor: monitor, Key: key, Value: v, Source: l.source, Layer: l.name, Evidence: l.evidence}
		r.logger.Debug("threshold resolved",
			zap.String("monitor", monitor),
			zap.String("key", key),
			zap.Float64("value", v),
			zap.String("source", string(l.source)),
			zap.String("layer", l.name),
		)
		r.metrics.Resolution(monitor, string(l.source))
		return trace
	}
	// unreachable while the last layer is a numeric default
	return Trace{Monitor: monitor, Key: key, Source: SourceDefault, Layer: "default", Evidence: "coded default"}
}

func inspect(trace Trace, layers []layer) *Inspection {
	out := &Inspection{Trace: trace}
	for _, l := range layers {
		lv := LayerValue{Source: l.source, Layer: l.name}
		if l.present {
			if v, ok := toFloat(l.value); ok {
				lv.Value = &v
			}
		}
		out.Layers = append(out.Layers, lv)
	}
	return out
}

func (r *Resolver) liquidLayers(ctx context.Context, sym string) []layer {
	s := r.load(ctx)
	def, ok := liquidDefaults[sym]
	evidence := "coded default"
	if !ok {
		def = liquidFallback
		evidence = "coded fallback"
	}
	return []layer{
		r.fileLayer(s.file, "liquid_monitor.thresholds."+sym),
		r.fileLayer(s.file, "liquid.thresholds."+sym),
		r.dbLayer(s.db, "thresholds."+sym),
		r.envLayer("LIQ_" + sym + "_THRESH"),
		defaultLayer(def, evidence),
	}
}

// LiquidThreshold resolves the liquidation-distance threshold for a symbol.
func (r *Resolver) LiquidThreshold(ctx context.Context, symbol string) (float64, Trace) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	trace := r.resolve("liquid", sym, r.liquidLayers(ctx, sym))
	return trace.Value, trace
}

func (r *Resolver) InspectLiquid(ctx context.Context, symbol string) *Inspection {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	layers := r.liquidLayers(ctx, sym)
	return inspect(r.resolve("liquid", sym, layers), layers)
}

func (r *Resolver) profitLayers(ctx context.Context, key string) []layer {
	s := r.load(ctx)
	def, ok := profitDefaults[key]
	evidence := "coded default"
	if !ok {
		evidence = "no coded default"
	}
	return []layer{
		r.fileLayer(s.file, "profit_monitor."+key),
		r.fileLayer(s.file, "profit."+key),
		r.dbLayer(s.db, "profit."+key),
		r.envLayer("PROFIT_" + strings.ToUpper(key)),
		defaultLayer(def, evidence),
	}
}

// ProfitLimit resolves a profit cap such as position_profit_usd.
func (r *Resolver) ProfitLimit(ctx context.Context, key string) (float64, Trace) {
	k := strings.ToLower(strings.TrimSpace(key))
	trace := r.resolve("profit", k, r.profitLayers(ctx, k))
	return trace.Value, trace
}

func (r *Resolver) InspectProfit(ctx context.Context, key string) *Inspection {
	k := strings.ToLower(strings.TrimSpace(key))
	layers := r.profitLayers(ctx, k)
	return inspect(r.resolve("profit", k, layers), layers)
}

// BlastRadius resolves the per-symbol blast radius of the liquidation monitor.
func (r *Resolver) BlastRadius(ctx context.Context, symbol string) (int, Trace) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	s := r.load(ctx)
	trace := r.resolve("liquid", "blast."+sym, []layer{
		r.fileLayer(s.file, "liquid_monitor.blast."+sym),
		r.fileLayer(s.file, "liquid.blast."+sym),
		r.dbLayer(s.db, "blast."+sym),
		r.envLayer("LIQ_" + sym + "_BLAST"),
		defaultLayer(blastDefault, "coded default"),
	})
	return int(trace.Value), trace
}

// SnoozeSeconds resolves the notification cooldown of a monitor
// ("profit", "liquid", ...).
func (r *Resolver) SnoozeSeconds(ctx context.Context, monitor string) (float64, Trace) {
	m := strings.ToLower(strings.TrimSpace(monitor))
	s := r.load(ctx)
	trace := r.resolve(m, "snooze_seconds", []layer{
		r.fileLayer(s.file, m+"_monitor.snooze_seconds"),
		r.fileLayer(s.file, m+".snooze_seconds"),
		r.dbLayer(s.db, m+".snooze_seconds"),
		r.envLayer(strings.ToUpper(m) + "_SNOOZE_SECONDS"),
		defaultLayer(snoozeDefaults[m], "coded default"),
	})
	return trace.Value, trace
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case nil, bool:
		return 0, false
	case string:
		f, err := cast.ToFloat64E(strings.TrimSpace(t))
		return f, err == nil
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64, float32, int, int32, int64, uint, uint32, uint64:
		f, err := cast.ToFloat64E(t)
		return f, err == nil
	default:
		return 0, false
	}
}
