package monitorcfg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/riskeye/internal/models"
	"github.com/riskeye/internal/repository"
)

type Layer string

const (
	LayerDefault Layer = "default"
	LayerEnv     Layer = "env"
	LayerDB      Layer = "db"
	LayerJSON    Layer = "json"
)

// Snapshot is what a provider read produced. A nil snapshot means the
// layer is absent.
type Snapshot struct {
	Document Document
	Source   string
	Warnings []string
}

type Provider interface {
	Read(ctx context.Context) (*Snapshot, error)
}

// --- json file ----------------------------------------------------------------

type FileProvider struct {
	Path  string
	Cache *Cache
}

func NewFileProvider(path string) *FileProvider {
	return &FileProvider{Path: path, Cache: NewCache(path)}
}

type WriteResult struct {
	Path       string
	BackupPath string
}

func (p *FileProvider) Read(ctx context.Context) (*Snapshot, error) {
	var (
		doc Document
		err error
	)
	if p.Cache != nil {
		doc, err = p.Cache.Get()
	} else {
		doc, err = readDocument(p.Path)
		if errors.Is(err, os.ErrNotExist) {
			doc, err = nil, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.Path, err)
	}
	if doc == nil {
		return nil, nil
	}
	return &Snapshot{Document: doc, Source: p.Path}, nil
}

// Write copies the current file to a timestamped backup and atomically
// replaces it with doc. Backups are never removed.
func (p *FileProvider) Write(doc Document) (*WriteResult, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}

	dir := filepath.Dir(p.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}

	res := &WriteResult{Path: p.Path}
	if _, err := os.Stat(p.Path); err == nil {
		backup := fmt.Sprintf("%s.%s.bak", p.Path, time.Now().UTC().Format("20060102T150405.000000000"))
		if err := copyFile(p.Path, backup); err != nil {
			return nil, fmt.Errorf("backup %s: %w", p.Path, err)
		}
		res.BackupPath = backup
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	if err := writeAtomic(p.Path, append(data, '\n')); err != nil {
		return nil, err
	}
	if p.Cache != nil {
		p.Cache.Invalidate()
	}
	return res, nil
}

// Restore puts back the file replaced by w.
func (p *FileProvider) Restore(w *WriteResult) error {
	if w == nil {
		return nil
	}
	if p.Cache != nil {
		defer p.Cache.Invalidate()
	}
	if w.BackupPath == "" {
		err := os.Remove(w.Path)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	data, err := os.ReadFile(w.BackupPath)
	if err != nil {
		return err
	}
	return writeAtomic(w.Path, data)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// --- database row -------------------------------------------------------------

type DBProvider struct {
	Store      repository.SettingRepository
	PrimaryKey string
	LegacyKey  string
}

func (p *DBProvider) Read(ctx context.Context) (*Snapshot, error) {
	for _, key := range []string{p.PrimaryKey, p.LegacyKey} {
		if key == "" {
			continue
		}
		item, err := p.Store.GetSetting(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read setting %s: %w", key, err)
		}
		if item == nil || len(item.Value) == 0 {
			continue
		}
		doc, err := decodeDocument(item.Value)
		if err != nil {
			return nil, fmt.Errorf("setting %s: %w", key, err)
		}
		return &Snapshot{Document: doc, Source: "db:" + key}, nil
	}
	return nil, nil
}

// Write upserts the document under both keys and runs beforeCommit inside
// the same transaction.
func (p *DBProvider) Write(ctx context.Context, doc Document, beforeCommit func() error) ([]string, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var (
		items []models.Setting
		keys  []string
	)
	for _, key := range []string{p.PrimaryKey, p.LegacyKey} {
		if key == "" {
			continue
		}
		items = append(items, models.Setting{Key: key, Value: data})
		keys = append(keys, key)
	}
	if len(items) == 0 {
		return nil, errors.New("no setting key configured")
	}
	if err := p.Store.SaveSettings(ctx, items, beforeCommit); err != nil {
		return nil, err
	}
	return keys, nil
}

// --- environment --------------------------------------------------------------

// EnvProvider builds an overlay from a JSON blob variable and targeted
// variables named after Prefix.
type EnvProvider struct {
	Prefix  string
	BlobVar string
	Environ func() []string
}

func NewEnvProvider(prefix, blobVar string) *EnvProvider {
	return &EnvProvider{Prefix: strings.ToUpper(prefix), BlobVar: blobVar, Environ: os.Environ}
}

func (p *EnvProvider) Read(ctx context.Context) (*Snapshot, error) {
	env := p.environ()
	snap := &Snapshot{Document: Document{}}
	var used []string

	if p.BlobVar != "" {
		if raw, ok := env[p.BlobVar]; ok && strings.TrimSpace(raw) != "" {
			doc, err := decodeDocument([]byte(raw))
			if err != nil {
				snap.Warnings = append(snap.Warnings, fmt.Sprintf("%s: %v", p.BlobVar, err))
			} else {
				snap.Document = doc
				used = append(used, p.BlobVar)
			}
		}
	}

	if p.Prefix != "" {
		loopVar := p.Prefix + "_LOOP_SECONDS"
		if raw, ok := env[loopVar]; ok {
			if n, err := cast.ToFloat64E(strings.TrimSpace(raw)); err != nil {
				snap.Warnings = append(snap.Warnings, fmt.Sprintf("%s: not a number: %q", loopVar, raw))
			} else {
				snap.Document.Set("monitor.loop_seconds", n)
				used = append(used, loopVar)
			}
		}

		xcomVar := p.Prefix + "_XCOM_LIVE"
		if raw, ok := env[xcomVar]; ok {
			if b, err := cast.ToBoolE(strings.TrimSpace(raw)); err != nil {
				snap.Warnings = append(snap.Warnings, fmt.Sprintf("%s: not a boolean: %q", xcomVar, raw))
			} else {
				snap.Document.Set("monitor.xcom_live", b)
				used = append(used, xcomVar)
			}
		}

		enabledPrefix := p.Prefix + "_ENABLED_"
		names := make([]string, 0)
		for k := range env {
			if strings.HasPrefix(k, enabledPrefix) && len(k) > len(enabledPrefix) {
				names = append(names, k)
			}
		}
		sort.Strings(names)
		for _, k := range names {
			name := strings.ToLower(strings.TrimPrefix(k, enabledPrefix))
			b, err := cast.ToBoolE(strings.TrimSpace(env[k]))
			if err != nil {
				snap.Warnings = append(snap.Warnings, fmt.Sprintf("%s: not a boolean: %q", k, env[k]))
				continue
			}
			snap.Document.Set("monitor.enabled."+name, b)
			used = append(used, k)
		}
	}

	if len(used) == 0 {
		if len(snap.Warnings) > 0 {
			return &Snapshot{Warnings: snap.Warnings}, nil
		}
		return nil, nil
	}
	snap.Source = "env:" + strings.Join(used, ",")
	return snap, nil
}

func (p *EnvProvider) environ() map[string]string {
	fn := p.Environ
	if fn == nil {
		fn = os.Environ
	}
	out := make(map[string]string)
	for _, kv := range fn() {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			out[k] = v
		}
	}
	return out
}
