// Package merge builds one effective configuration from a merge chain: a base
// profile, override documents applied in order, and transformation scripts
// executed in a restricted sandbox. Merging is pure and deterministic;
// identical chain and contents always produce a byte-identical document.
package merge

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/XppaiCyberr/clash-verge-xpp/internal/storage/models"
	pkgerrors "github.com/XppaiCyberr/clash-verge-xpp/pkg/errors"
)

// ProfileSource resolves chain entries to profiles.
type ProfileSource interface {
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
}

// ScriptRunner executes a transformation script against a configuration map.
type ScriptRunner interface {
	Run(ctx context.Context, name, script string, input map[string]interface{}) (map[string]interface{}, error)
}

// Engine merges profile chains into effective configurations. It caches the
// last result keyed by a fingerprint of the resolved inputs; any profile
// mutation invalidates the cache through the store's mutation hook.
type Engine struct {
	profiles ProfileSource
	sandbox  ScriptRunner
	logger   *zap.Logger

	mu          sync.Mutex
	cached      *EffectiveConfig
	fingerprint string
}

// NewEngine creates a merge engine.
func NewEngine(profiles ProfileSource, sandbox ScriptRunner, logger *zap.Logger) *Engine {
	return &Engine{
		profiles: profiles,
		sandbox:  sandbox,
		logger:   logger.Named("merge"),
	}
}

// Invalidate drops the cached effective configuration.
func (e *Engine) Invalidate() {
	e.mu.Lock()
	e.cached = nil
	e.fingerprint = ""
	e.mu.Unlock()
}

// Cached returns the last successfully merged configuration, or nil.
func (e *Engine) Cached() *EffectiveConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cached
}

// Merge resolves the chain and produces an effective configuration. On any
// step failure no partial result is published: the previously cached
// configuration stays in place and the error is returned.
func (e *Engine) Merge(ctx context.Context, chain *models.MergeChain) (*EffectiveConfig, error) {
	resolved, err := e.resolve(ctx, chain)
	if err != nil {
		return nil, err
	}

	fp := fingerprintChain(resolved)

	e.mu.Lock()
	if e.cached != nil && e.fingerprint == fp {
		cached := e.cached
		e.mu.Unlock()
		return cached, nil
	}
	e.mu.Unlock()

	doc, provenance, hasScript, err := e.run(ctx, resolved)
	if err != nil {
		return nil, err
	}

	encoded, err := encodeCanonical(doc)
	if err != nil {
		return nil, err
	}

	cfg := &EffectiveConfig{
		Document:    encoded,
		Hash:        hashDocument(encoded),
		Provenance:  provenance,
		Stable:      true,
		GeneratedAt: time.Now(),
	}

	// Scripts are user-authored and not guaranteed deterministic. Re-execute
	// the pipeline once and compare before the result is used for activation
	// comparison.
	if hasScript {
		again, _, _, err := e.run(ctx, resolved)
		if err != nil {
			return nil, err
		}
		reEncoded, err := encodeCanonical(again)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(encoded, reEncoded) {
			cfg.Stable = false
			e.logger.Warn("script output differs across re-execution; activation comparisons may churn",
				zap.String("hash", cfg.Hash))
		}
	}

	e.mu.Lock()
	e.cached = cfg
	e.fingerprint = fp
	e.mu.Unlock()

	e.logger.Info("merge complete",
		zap.String("hash", cfg.Hash),
		zap.Int("chain_length", len(resolved)),
		zap.Bool("stable", cfg.Stable))
	return cfg, nil
}

// resolve loads every chain member and checks chain shape: exactly one
// remote/local base, merge/script entries after it.
func (e *Engine) resolve(ctx context.Context, chain *models.MergeChain) ([]*models.Profile, error) {
	if chain == nil || chain.Base == "" {
		return nil, &pkgerrors.ValidationError{Detail: "merge chain has no base profile"}
	}

	base, err := e.profiles.GetProfile(ctx, chain.Base)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base profile: %w", err)
	}
	if base.Kind != models.KindRemote && base.Kind != models.KindLocal {
		return nil, &pkgerrors.ValidationError{
			Detail: fmt.Sprintf("base profile '%s' has kind %s; base must be remote or local", base.Name, base.Kind),
		}
	}

	resolved := []*models.Profile{base}
	for _, id := range chain.Entries {
		p, err := e.profiles.GetProfile(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve chain entry %s: %w", id, err)
		}
		if p.Kind != models.KindMerge && p.Kind != models.KindScript {
			return nil, &pkgerrors.ValidationError{
				Detail: fmt.Sprintf("chain entry '%s' has kind %s; entries must be merge or script", p.Name, p.Kind),
			}
		}
		resolved = append(resolved, p)
	}
	return resolved, nil
}

// run executes the merge pipeline over resolved profiles.
func (e *Engine) run(ctx context.Context, resolved []*models.Profile) (map[string]interface{}, []Provenance, bool, error) {
	base := resolved[0]
	acc, err := parseDocument(base.Name, base.Content)
	if err != nil {
		return nil, nil, false, err
	}

	provenance := []Provenance{{ProfileID: base.ID, Name: base.Name, Kind: base.Kind}}
	hasScript := false

	for _, p := range resolved[1:] {
		switch p.Kind {
		case models.KindMerge:
			override, err := parseDocument(p.Name, p.Content)
			if err != nil {
				return nil, nil, false, err
			}
			acc = applyOverride(acc, override)
		case models.KindScript:
			hasScript = true
			out, err := e.sandbox.Run(ctx, p.Name, p.Content, acc)
			if err != nil {
				return nil, nil, false, err
			}
			acc = out
		}
		provenance = append(provenance, Provenance{ProfileID: p.ID, Name: p.Name, Kind: p.Kind})
	}

	if err := validateDocument(acc); err != nil {
		return nil, nil, false, err
	}
	return acc, provenance, hasScript, nil
}

func fingerprintChain(resolved []*models.Profile) string {
	h := sha256.New()
	for _, p := range resolved {
		fmt.Fprintf(h, "%s:%s\n", p.ID, p.ContentHash)
	}
	return hex.EncodeToString(h.Sum(nil))
}
