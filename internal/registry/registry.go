// Package registry is the Force Engine's in-memory authoritative map of
// kind -> id -> canonical component. Readers observe an immutable snapshot;
// a reload builds a brand-new snapshot and swaps it in atomically, the same
// copy-on-write discipline gomind uses for its service discovery cache.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/force-engine/force/internal/autofix"
	"github.com/force-engine/force/internal/component"
	"github.com/force-engine/force/internal/ferrors"
	"github.com/force-engine/force/internal/loader"
	"github.com/force-engine/force/internal/logging"
	"github.com/force-engine/force/internal/schema"
	"github.com/force-engine/force/internal/validator"
)

// Snapshot is one immutable admitted-component view, safe to share across
// goroutines without copying.
type Snapshot struct {
	Tools       map[string]component.Tool
	Patterns    map[string]component.Pattern
	Constraints map[string]component.Constraint
	Governance  map[string]component.GovernancePolicy
	Variants    map[string]component.Variant
	Learnings   map[string]component.LearningRecord

	Quarantined []component.Record
	LoadedAt    time.Time
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		Tools:       map[string]component.Tool{},
		Patterns:    map[string]component.Pattern{},
		Constraints: map[string]component.Constraint{},
		Governance:  map[string]component.GovernancePolicy{},
		Variants:    map[string]component.Variant{},
		Learnings:   map[string]component.LearningRecord{},
	}
}

// StatsSource lets Registry.Stats read execution aggregates without
// importing internal/learning directly, avoiding an import cycle with the
// Governance Gate, which consults both Registry and Learning aggregates.
type StatsSource interface {
	Aggregate(id string) (component.PerformanceMetrics, bool)
}

// Registry holds the current Snapshot and coordinates reload.
type Registry struct {
	root   string
	store  *schema.Store
	fixer  *autofix.Fixer
	logger logging.Logger

	autoFixOnLoad bool
	watch         bool

	snap  atomic.Pointer[Snapshot]
	stats StatsSource

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Option configures a Registry at construction.
type Option func(*Registry)

// WithAutoFixOnLoad makes reload() run the Auto-Fixer over any component
// that fails schema/semantic validation before quarantining it.
func WithAutoFixOnLoad(fixer *autofix.Fixer) Option {
	return func(r *Registry) {
		r.fixer = fixer
		r.autoFixOnLoad = true
	}
}

// WithWatch enables fsnotify-driven hot reload.
func WithWatch(enabled bool) Option {
	return func(r *Registry) { r.watch = enabled }
}

// WithStatsSource wires the Learning Recorder's aggregate reader into Stats.
func WithStatsSource(s StatsSource) Option {
	return func(r *Registry) { r.stats = s }
}

// WithLogger sets the Registry's logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New builds a Registry rooted at root with an empty snapshot; call Reload
// to populate it.
func New(root string, store *schema.Store, opts ...Option) *Registry {
	r := &Registry{root: root, store: store, logger: logging.NoOpLogger{}}
	for _, opt := range opts {
		opt(r)
	}
	r.snap.Store(emptySnapshot())
	return r
}

// Snapshot returns the current immutable view.
func (r *Registry) Snapshot() *Snapshot {
	return r.snap.Load()
}

// Get returns the admitted component of the given kind with id, and
// whether one was found. The concrete type of the returned value is
// Tool, Pattern, Constraint, GovernancePolicy, Variant, or LearningRecord,
// matching kind.
func (r *Registry) Get(kind component.Kind, id string) (interface{}, bool) {
	snap := r.Snapshot()
	switch kind {
	case component.KindTool:
		v, ok := snap.Tools[id]
		return v, ok
	case component.KindPattern:
		v, ok := snap.Patterns[id]
		return v, ok
	case component.KindConstraint:
		v, ok := snap.Constraints[id]
		return v, ok
	case component.KindGovernance:
		v, ok := snap.Governance[id]
		return v, ok
	case component.KindVariant:
		v, ok := snap.Variants[id]
		return v, ok
	case component.KindLearning:
		v, ok := snap.Learnings[id]
		return v, ok
	default:
		return nil, false
	}
}

// ListFilter narrows List's result set. A zero-value ListFilter matches
// every admitted component of the given kind.
type ListFilter struct {
	Category   string
	Tags       []string // a component matches if it carries any of these tags
	Complexity string
	Query      string // case-insensitive substring match against id/name/description
}

func (f ListFilter) matches(id, name, description, category, complexity string, tags []string) bool {
	if f.Category != "" && f.Category != category {
		return false
	}
	if f.Complexity != "" && f.Complexity != complexity {
		return false
	}
	if len(f.Tags) > 0 && !anyTagMatches(tags, f.Tags) {
		return false
	}
	if f.Query != "" {
		q := strings.ToLower(f.Query)
		if !strings.Contains(strings.ToLower(id), q) &&
			!strings.Contains(strings.ToLower(name), q) &&
			!strings.Contains(strings.ToLower(description), q) {
			return false
		}
	}
	return true
}

func anyTagMatches(have, want []string) bool {
	for _, w := range want {
		if hasTag(have, w) {
			return true
		}
	}
	return false
}

// List returns every admitted component of kind matching filter. Order is
// unspecified.
func (r *Registry) List(kind component.Kind, filter ListFilter) []interface{} {
	snap := r.Snapshot()
	var out []interface{}
	switch kind {
	case component.KindTool:
		for _, v := range snap.Tools {
			if filter.matches(v.ID, v.Name, v.Description, v.Category, v.Metadata.Complexity, v.Metadata.Tags) {
				out = append(out, v)
			}
		}
	case component.KindPattern:
		for _, v := range snap.Patterns {
			if filter.matches(v.ID, v.Name, v.Description, v.Category, v.Metadata.Complexity, v.Metadata.Tags) {
				out = append(out, v)
			}
		}
	case component.KindConstraint:
		for _, v := range snap.Constraints {
			if filter.matches(v.ID, v.Name, v.Description, v.Category, v.Metadata.Complexity, v.Metadata.Tags) {
				out = append(out, v)
			}
		}
	case component.KindGovernance:
		for _, v := range snap.Governance {
			if filter.matches(v.ID, v.Name, "", v.Category, v.Metadata.Complexity, v.Metadata.Tags) {
				out = append(out, v)
			}
		}
	case component.KindVariant:
		for _, v := range snap.Variants {
			if filter.matches(v.ID, v.Name, v.Description, v.Category, v.Metadata.Complexity, v.Metadata.Tags) {
				out = append(out, v)
			}
		}
	case component.KindLearning:
		for _, v := range snap.Learnings {
			if filter.matches(v.ID, v.Title, v.Description, v.Category, v.Metadata.Complexity, v.Metadata.Tags) {
				out = append(out, v)
			}
		}
	}
	return out
}

// Reload re-enumerates the component tree, validates every document (running
// the Auto-Fixer first when configured), and atomically swaps in a new
// Snapshot. Failed components are recorded in Quarantined rather than
// aborting the reload, per the admit-or-quarantine invariant.
func (r *Registry) Reload(ctx context.Context) (*Snapshot, error) {
	ld := loader.New(r.root)
	entries, err := ld.Enumerate()
	if err != nil {
		return nil, fmt.Errorf("registry: enumerate: %w", err)
	}

	v := validator.New(r.store)
	corpus := validator.NewCorpus()
	next := emptySnapshot()

	// One pass over reordered entries: tools/constraints/governance/learnings
	// first so patterns and variants can resolve references against a
	// populated corpus.
	ordered := orderEntries(entries)

	for _, e := range ordered {
		kind := component.Classify(e.Raw)
		if kind == component.KindUnknown {
			kind = e.KindHint
		}

		if r.autoFixOnLoad && r.fixer != nil {
			if rec := v.Validate(kind, e.Raw, corpus); !rec.Valid {
				r.fixer.Fix(kind, e.Raw)
			}
		}

		rec := v.Validate(kind, e.Raw, corpus)
		if !rec.Valid {
			if kind == component.KindTool {
				rec.Critical = hasTag(extractTags(e.Raw), "critical")
			}
			next.Quarantined = append(next.Quarantined, rec)
			r.logger.Warn("component quarantined", map[string]interface{}{
				"path": e.Path, "kind": string(kind), "id": rec.ID, "errors": len(rec.Errors), "critical": rec.Critical,
			})
			continue
		}

		if err := admit(next, kind, e.Raw); err != nil {
			next.Quarantined = append(next.Quarantined, component.Record{
				ID: rec.ID, Kind: kind, Valid: false,
				Errors: []component.FieldError{{Path: "$", Message: err.Error()}},
			})
		}
	}

	next.LoadedAt = time.Now()
	r.snap.Store(next)
	r.logger.Info("registry reloaded", map[string]interface{}{
		"tools": len(next.Tools), "patterns": len(next.Patterns),
		"constraints": len(next.Constraints), "governance": len(next.Governance),
		"variants": len(next.Variants), "learnings": len(next.Learnings),
		"quarantined": len(next.Quarantined),
	})
	return next, nil
}

// orderEntries returns entries with non-referencing kinds (tool, constraint,
// governance, learning) before referencing kinds (pattern, variant), so
// referential-integrity checks see a populated corpus.
func orderEntries(entries []loader.FileEntry) []loader.FileEntry {
	rank := func(k component.Kind) int {
		switch k {
		case component.KindPattern, component.KindVariant:
			return 1
		default:
			return 0
		}
	}
	out := make([]loader.FileEntry, len(entries))
	copy(out, entries)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && rank(out[j].KindHint) < rank(out[j-1].KindHint); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func admit(s *Snapshot, kind component.Kind, raw map[string]interface{}) error {
	data, err := toJSON(raw)
	if err != nil {
		return err
	}
	switch kind {
	case component.KindTool:
		var t component.Tool
		if err := fromJSON(data, &t); err != nil {
			return err
		}
		t.Critical = hasTag(t.Metadata.Tags, "critical")
		s.Tools[t.ID] = t
	case component.KindPattern:
		var p component.Pattern
		if err := fromJSON(data, &p); err != nil {
			return err
		}
		s.Patterns[p.ID] = p
	case component.KindConstraint:
		var c component.Constraint
		if err := fromJSON(data, &c); err != nil {
			return err
		}
		s.Constraints[c.ID] = c
	case component.KindGovernance:
		var g component.GovernancePolicy
		if err := fromJSON(data, &g); err != nil {
			return err
		}
		s.Governance[g.ID] = g
	case component.KindVariant:
		var v component.Variant
		if err := fromJSON(data, &v); err != nil {
			return err
		}
		s.Variants[v.ID] = v
	case component.KindLearning:
		var l component.LearningRecord
		if err := fromJSON(data, &l); err != nil {
			return err
		}
		s.Learnings[l.ID] = l
	default:
		return ferrors.Withf("registry.admit", string(kind), "", ferrors.ErrSemantic, "unadmittable kind")
	}
	return nil
}

func toJSON(raw map[string]interface{}) ([]byte, error) {
	return json.Marshal(raw)
}

func fromJSON(data []byte, out interface{}) error {
	return json.Unmarshal(data, out)
}

// extractTags reads metadata.tags out of a raw, possibly-invalid document,
// tolerating any shape short of a well-formed []string.
func extractTags(raw map[string]interface{}) []string {
	meta, ok := raw["metadata"].(map[string]interface{})
	if !ok {
		return nil
	}
	rawTags, ok := meta["tags"].([]interface{})
	if !ok {
		return nil
	}
	tags := make([]string, 0, len(rawTags))
	for _, t := range rawTags {
		if s, ok := t.(string); ok {
			tags = append(tags, s)
		}
	}
	return tags
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Stats returns the performance metrics the Learning Recorder has
// aggregated for id, falling back to the zero value when no StatsSource is
// wired or no data exists yet.
func (r *Registry) Stats(id string) (component.PerformanceMetrics, bool) {
	if r.stats == nil {
		return component.PerformanceMetrics{}, false
	}
	return r.stats.Aggregate(id)
}

// Watch starts an fsnotify watch over root and triggers a debounced Reload
// on any filesystem event, returning a stop function. It is a no-op if the
// Registry was not constructed WithWatch(true). Only the root directory
// itself is watched, not recursively: changes to files inside the component
// subdirectories do not trigger a Reload.
func (r *Registry) Watch(ctx context.Context) (stop func(), err error) {
	if !r.watch {
		return func() {}, nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("registry: new watcher: %w", err)
	}
	if err := w.Add(r.root); err != nil {
		w.Close()
		return nil, fmt.Errorf("registry: watch %s: %w", r.root, err)
	}

	r.watcher = w
	r.done = make(chan struct{})

	go func() {
		const debounce = 250 * time.Millisecond
		var timer *time.Timer
		pending := make(chan struct{}, 1)

		for {
			select {
			case <-r.done:
				return
			case _, ok := <-w.Events:
				if !ok {
					return
				}
				if timer == nil {
					timer = time.AfterFunc(debounce, func() {
						select {
						case pending <- struct{}{}:
						default:
						}
					})
				} else {
					timer.Reset(debounce)
				}
			case <-pending:
				if _, err := r.Reload(ctx); err != nil {
					r.logger.Error("hot reload failed", map[string]interface{}{"error": err.Error()})
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				r.logger.Warn("fsnotify error", map[string]interface{}{"error": err.Error()})
			}
		}
	}()

	return func() {
		close(r.done)
		w.Close()
	}, nil
}
