package monitorcfg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"
)

const (
	DocumentMonitor = "monitor"
	// documentMonitorAlias is the name older tooling used for the same document.
	documentMonitorAlias = "sonic_monitor"
)

var ErrUnsupportedDocument = errors.New("unsupported document")

type ConfigError struct {
	Op   string
	Name string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s %q: %v", e.Op, e.Name, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

type Policy string

const (
	PolicyJSONFirst Policy = "JSON_FIRST"
	PolicyDBFirst   Policy = "DB_FIRST"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToUpper(strings.TrimSpace(s))) {
	case PolicyJSONFirst, "":
		return PolicyJSONFirst, nil
	case PolicyDBFirst:
		return PolicyDBFirst, nil
	default:
		return "", fmt.Errorf("unknown precedence policy %q", s)
	}
}

// Order lists the layers applied over the defaults, lowest priority first.
func (p Policy) Order() []Layer {
	if p == PolicyDBFirst {
		return []Layer{LayerEnv, LayerJSON, LayerDB}
	}
	return []Layer{LayerEnv, LayerDB, LayerJSON}
}

type LoadResult struct {
	Document Document         `json:"document"`
	Sources  map[Layer]string `json:"sources"`
	Policy   Policy           `json:"policy"`
	Errors   []string         `json:"errors"`
	Warnings []string         `json:"warnings"`
}

type SaveResult struct {
	OK         bool     `json:"ok"`
	Errors     []string `json:"errors"`
	Warnings   []string `json:"warnings"`
	JSONPath   string   `json:"json_path,omitempty"`
	BackupPath string   `json:"backup_path,omitempty"`
	DBKeys     []string `json:"db_keys,omitempty"`
}

// Resolver merges the coded defaults with the env, db and json layers in
// the order set by its policy.
type Resolver struct {
	File *FileProvider
	DB   *DBProvider
	Env  *EnvProvider

	logger *zap.Logger

	mu     sync.RWMutex
	policy Policy
	last   Document
}

func NewResolver(policy Policy, file *FileProvider, db *DBProvider, env *EnvProvider, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == "" {
		policy = PolicyJSONFirst
	}
	return &Resolver{
		File:   file,
		DB:     db,
		Env:    env,
		logger: logger.Named("monitorcfg"),
		policy: policy,
	}
}

func (r *Resolver) Policy() Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policy
}

func (r *Resolver) SetPolicy(p Policy) {
	r.mu.Lock()
	r.policy = p
	r.mu.Unlock()
	r.logger.Info("precedence policy changed", zap.String("policy", string(p)))
}

func supported(name string) bool {
	return name == DocumentMonitor || name == documentMonitorAlias
}

func (r *Resolver) provider(layer Layer) Provider {
	switch layer {
	case LayerEnv:
		if r.Env != nil {
			return r.Env
		}
	case LayerDB:
		if r.DB != nil {
			return r.DB
		}
	case LayerJSON:
		if r.File != nil {
			return r.File
		}
	}
	return nil
}

func (r *Resolver) Load(ctx context.Context, name string) (*LoadResult, error) {
	if !supported(name) {
		return nil, &ConfigError{Op: "load", Name: name, Err: ErrUnsupportedDocument}
	}

	policy := r.Policy()
	res := &LoadResult{
		Policy:  policy,
		Sources: map[Layer]string{LayerDefault: "coded defaults"},
	}
	doc := DefaultDocument()

	for _, layer := range policy.Order() {
		p := r.provider(layer)
		if p == nil {
			continue
		}
		snap, err := p.Read(ctx)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v", layer, err))
			r.logger.Warn("config layer unreadable", zap.String("layer", string(layer)), zap.Error(err))
			continue
		}
		if snap != nil {
			for _, w := range snap.Warnings {
				res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %s", layer, w))
			}
		}
		if snap == nil || snap.Document == nil {
			if layer == LayerJSON {
				res.Warnings = append(res.Warnings, fmt.Sprintf("json missing: %s", r.File.Path))
			}
			continue
		}
		res.Sources[layer] = snap.Source
		doc = DeepMerge(doc, Normalize(snap.Document))
	}

	doc = Normalize(doc)
	errs, warnings := Validate(doc)
	res.Errors = errs
	res.Warnings = append(res.Warnings, warnings...)
	res.Document = doc

	r.mu.Lock()
	r.last = doc
	r.mu.Unlock()

	r.logger.Debug("config loaded",
		zap.String("policy", string(policy)),
		zap.Any("sources", res.Sources),
		zap.Int("errors", len(res.Errors)),
		zap.Int("warnings", len(res.Warnings)),
	)
	return res, nil
}

// Save validates doc and writes it to the db row and the json file. Nothing
// is written when validation fails, and a failed db commit restores the
// previous file.
func (r *Resolver) Save(ctx context.Context, name string, doc Document) (*SaveResult, error) {
	if !supported(name) {
		return nil, &ConfigError{Op: "save", Name: name, Err: ErrUnsupportedDocument}
	}

	normalized := Normalize(doc)
	errs, warnings := Validate(normalized)
	res := &SaveResult{Errors: errs, Warnings: warnings}
	if len(errs) > 0 {
		r.logger.Warn("config save rejected", zap.Strings("errors", errs))
		return res, nil
	}
	if r.File == nil && r.DB == nil {
		res.Errors = append(res.Errors, "no writable config provider")
		return res, nil
	}

	var written *WriteResult
	writeFile := func() error {
		if r.File == nil {
			return nil
		}
		w, err := r.File.Write(normalized)
		if err != nil {
			return err
		}
		written = w
		return nil
	}

	var err error
	if r.DB != nil {
		res.DBKeys, err = r.DB.Write(ctx, normalized, writeFile)
	} else {
		err = writeFile()
	}
	if err != nil {
		if written != nil {
			if rerr := r.File.Restore(written); rerr != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("restore %s: %v", written.Path, rerr))
			}
		}
		res.DBKeys = nil
		res.Errors = append(res.Errors, err.Error())
		r.logger.Error("config save failed", zap.Error(err))
		return res, nil
	}

	res.OK = true
	if written != nil {
		res.JSONPath = written.Path
		res.BackupPath = written.BackupPath
	}

	r.mu.Lock()
	r.last = normalized
	r.mu.Unlock()

	r.logger.Info("config saved", zap.String("json", res.JSONPath), zap.Strings("db_keys", res.DBKeys))
	return res, nil
}

// Get loads the document and returns the value at a dotted path, or def.
func (r *Resolver) Get(ctx context.Context, name, path string, def any) (any, error) {
	res, err := r.Load(ctx, name)
	if err != nil {
		return def, err
	}
	if v, ok := res.Document.Lookup(path); ok {
		return v, nil
	}
	return def, nil
}

// Current returns the last loaded or saved document, or the defaults.
func (r *Resolver) Current() Document {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return DefaultDocument()
	}
	return r.last.Clone()
}

// ChannelEnabled reports <section>.notifications.<channel> of the current
// document. Missing toggles count as enabled.
func (r *Resolver) ChannelEnabled(section, channel string) bool {
	v, ok := r.Current().Lookup(section + ".notifications." + channel)
	if !ok {
		return true
	}
	b, isBool := v.(bool)
	return !isBool || b
}

// MonitorEnabled reports monitor.enabled.<name>, defaulting to true.
func (r *Resolver) MonitorEnabled(name string) bool {
	v, ok := r.Current().Lookup("monitor.enabled." + name)
	if !ok {
		return true
	}
	b, isBool := v.(bool)
	return !isBool || b
}

// LoopInterval returns monitor.loop_seconds as a duration.
func (r *Resolver) LoopInterval() time.Duration {
	v, ok := r.Current().Lookup("monitor.loop_seconds")
	if !ok {
		return 30 * time.Second
	}
	secs, err := cast.ToFloat64E(v)
	if err != nil || secs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(secs * float64(time.Second))
}
