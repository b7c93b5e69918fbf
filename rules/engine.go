package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/liamcoop/businessrules/catalog"
	"github.com/liamcoop/businessrules/internal/logger"
	"github.com/liamcoop/businessrules/script"
	"golang.org/x/sync/errgroup"
)

// DefaultParallelism bounds concurrent remote calls within one operation.
const DefaultParallelism = 4

// RemoteClient deploys, updates and undeploys named applications on the
// remote execution engine.
type RemoteClient interface {
	Deploy(ctx context.Context, name, content string) error
	// Update reports false when the engine rejected the update.
	Update(ctx context.Context, name, content string) (bool, error)
	// Delete reports false when the engine rejected the undeploy.
	Delete(ctx context.Context, name string) (bool, error)
}

// Manager runs the business rule lifecycle: derive, deploy and persist on
// create; re-derive, update and overwrite on edit; undeploy and remove on
// delete.
//
// Create and Edit are fail-open: derivation and deploy failures are logged
// and leave the definition stored with Deployed=false. Delete is fail-closed:
// the definition is removed only when every artifact was undeployed.
//
// Lifecycle operations run to completion once started: cancelling the
// caller's context does not interrupt them. Remote calls are bounded by the
// remote client's own timeout and retry limit.
type Manager struct {
	catalog     CatalogSource
	deriver     *Deriver
	composer    *Composer
	store       DefinitionStore
	remote      RemoteClient
	cache       DefinitionsCache
	metrics     *Metrics
	logger      *slog.Logger
	parallelism int

	evaluator script.Evaluator
	skeleton  SkeletonProvider
	strict    bool
	cacheCfg  CacheConfig
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithEvaluator replaces the CEL script evaluator.
func WithEvaluator(e script.Evaluator) ManagerOption {
	return func(m *Manager) { m.evaluator = e }
}

// WithSkeleton replaces the embedded composite skeleton.
func WithSkeleton(p SkeletonProvider) ManagerOption {
	return func(m *Manager) { m.skeleton = p }
}

// WithStrict sets the unresolved-placeholder policy, see WithStrictPlaceholders.
func WithStrict(strict bool) ManagerOption {
	return func(m *Manager) { m.strict = strict }
}

// WithParallelism bounds concurrent remote calls per operation.
func WithParallelism(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.parallelism = n
		}
	}
}

// WithMetrics records lifecycle metrics.
func WithMetrics(metrics *Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// WithCacheConfig configures the ListDefinitions cache.
func WithCacheConfig(cfg CacheConfig) ManagerOption {
	return func(m *Manager) { m.cacheCfg = cfg }
}

// NewManager creates a lifecycle manager.
func NewManager(source CatalogSource, store DefinitionStore, remote RemoteClient, opts ...ManagerOption) *Manager {
	m := &Manager{
		catalog:     source,
		store:       store,
		remote:      remote,
		parallelism: DefaultParallelism,
		strict:      true,
		cacheCfg:    DefaultCacheConfig(),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.logger = logger.OrDefault(m.logger)
	if m.evaluator == nil {
		m.evaluator = script.NewCELEvaluator()
	}
	m.deriver = NewDeriver(source, m.evaluator,
		WithDeriverLogger(m.logger),
		WithStrictPlaceholders(m.strict),
	)
	m.composer = NewComposer(m.skeleton)
	m.cache = NewInMemoryDefinitionsCache(m.cacheCfg)
	return m
}

// Deriver returns the manager's deriver.
func (m *Manager) Deriver() *Deriver {
	return m.deriver
}

// CreateFromTemplate derives, deploys and stores a from-template rule.
func (m *Manager) CreateFromTemplate(ctx context.Context, def TemplateDefinition) (*StoredDefinition, error) {
	return m.Create(ctx, FromTemplate(def))
}

// CreateFromScratch derives, composes, deploys and stores a from-scratch rule.
func (m *Manager) CreateFromScratch(ctx context.Context, def ScratchDefinition) (*StoredDefinition, error) {
	return m.Create(ctx, FromScratch(def))
}

// Create stores def, deploying its artifacts first. A definition without an
// id is given a new UUID. Only validation and persistence failures are
// returned; deploy outcome is reported by the Deployed flag.
func (m *Manager) Create(ctx context.Context, def Definition) (sd *StoredDefinition, err error) {
	defer func(start time.Time) { m.metrics.observeOperation("create", start, err) }(time.Now())
	ctx = context.WithoutCancel(ctx)

	if err := def.Validate(); err != nil {
		return nil, err
	}
	if def.ID() == "" {
		def = def.WithID(uuid.NewString())
	}

	// Check if the rule already exists before deploying anything
	if _, err := m.store.Get(ctx, def.ID()); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrDefinitionExists, def.ID())
	} else if !errors.Is(err, ErrDefinitionNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	data, err := EncodeDefinition(def)
	if err != nil {
		return nil, err
	}

	count, deployed := m.deploy(ctx, def)

	rec := &Record{ID: def.ID(), Data: data, Deployed: deployed, Artifacts: count}
	if err := m.store.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	m.cache.Invalidate()

	m.logger.Info("business rule created", "rule_id", rec.ID, "type", def.Type, "deployed", deployed)
	return storedFrom(def, rec), nil
}

// Edit replaces the stored definition id with def, updating each derived
// artifact on the remote engine. The variant cannot change and the id is
// taken from the argument.
func (m *Manager) Edit(ctx context.Context, id string, def Definition) (sd *StoredDefinition, err error) {
	defer func(start time.Time) { m.metrics.observeOperation("edit", start, err) }(time.Now())
	ctx = context.WithoutCancel(ctx)

	if err := def.Validate(); err != nil {
		return nil, err
	}

	prev, existing, err := m.loadRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Type != def.Type {
		return nil, fmt.Errorf("%w: %s is a %s rule", ErrVariantMismatch, id, existing.Type)
	}

	def = def.WithID(id)
	data, err := EncodeDefinition(def)
	if err != nil {
		return nil, err
	}

	count, deployed := m.update(ctx, def)

	rec := &Record{ID: id, Data: data, Deployed: deployed, Artifacts: mergeArtifacts(prev.Artifacts, count)}
	if err := m.store.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	m.cache.Invalidate()

	m.logger.Info("business rule updated", "rule_id", id, "type", def.Type, "deployed", deployed)
	return storedFrom(def, rec), nil
}

// Redeploy re-derives a stored definition, pushes every artifact to the
// remote engine again and records the new deployment flag.
func (m *Manager) Redeploy(ctx context.Context, id string) (sd *StoredDefinition, err error) {
	defer func(start time.Time) { m.metrics.observeOperation("redeploy", start, err) }(time.Now())
	ctx = context.WithoutCancel(ctx)

	rec, def, err := m.loadRecord(ctx, id)
	if err != nil {
		return nil, err
	}

	count, deployed := m.update(ctx, def)
	rec.Deployed = deployed
	rec.Artifacts = mergeArtifacts(rec.Artifacts, count)
	if err := m.store.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	m.cache.Invalidate()

	m.logger.Info("business rule redeployed", "rule_id", id, "deployed", rec.Deployed)
	return storedFrom(def, rec), nil
}

// Delete undeploys every artifact of the rule and then removes the stored
// definition. If any undeploy fails the definition is kept and an
// *UndeployError naming the failed artifacts is returned.
func (m *Manager) Delete(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { m.metrics.observeOperation("delete", start, err) }(time.Now())
	ctx = context.WithoutCancel(ctx)

	rec, def, err := m.loadRecord(ctx, id)
	if err != nil {
		return err
	}

	names, err := m.deploymentNames(def, rec.Artifacts)
	if err != nil {
		return err
	}

	failed := m.forEach(ctx, "undeploy", names, func(ctx context.Context, name string) error {
		ok, err := m.remote.Delete(ctx, name)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: engine rejected undeploy of %s", ErrUndeploy, name)
		}
		return nil
	})
	if len(failed) > 0 {
		return &UndeployError{RuleID: id, Failed: failed}
	}

	if err := m.store.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrDefinitionNotFound) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	m.cache.Invalidate()

	m.logger.Info("business rule deleted", "rule_id", id, "artifacts", len(names))
	return nil
}

// FindDefinition reads a stored definition directly from the store.
func (m *Manager) FindDefinition(ctx context.Context, id string) (*StoredDefinition, error) {
	rec, def, err := m.loadRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	return storedFrom(def, rec), nil
}

// ListDefinitions returns every stored definition, oldest first. Records that
// cannot be decoded are logged and left out.
func (m *Manager) ListDefinitions(ctx context.Context) ([]*StoredDefinition, error) {
	if cached := m.cache.Get(); cached != nil {
		return cached, nil
	}

	// A write that lands while the store is read bumps the generation, so
	// this snapshot is not cached over it.
	gen := m.cache.Generation()
	records, err := m.store.RetrieveAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	defs := make([]*StoredDefinition, 0, len(records))
	deployed := 0
	for _, rec := range records {
		def, err := DecodeDefinition(rec.Data)
		if err != nil {
			m.logger.Warn("skipping undecodable business rule", "rule_id", rec.ID, "error", err)
			continue
		}
		if rec.Deployed {
			deployed++
		}
		defs = append(defs, storedFrom(def, rec))
	}

	m.metrics.setDeployed(deployed)
	m.cache.Set(gen, defs)
	return defs, nil
}

// ListTemplateGroups returns every template group in the current catalog.
func (m *Manager) ListTemplateGroups() []*catalog.TemplateGroup {
	return m.catalog.Current().TemplateGroups()
}

// GetTemplateGroup returns a template group by id.
func (m *Manager) GetTemplateGroup(groupID string) (*catalog.TemplateGroup, error) {
	return m.catalog.Current().TemplateGroup(groupID)
}

// GetRuleTemplates returns the rule templates of a group.
func (m *Manager) GetRuleTemplates(groupID string) ([]*catalog.RuleTemplate, error) {
	return m.catalog.Current().RuleTemplates(groupID)
}

// GetRuleTemplate returns a rule template by group and rule template id.
func (m *Manager) GetRuleTemplate(groupID, ruleTemplateID string) (*catalog.RuleTemplate, error) {
	return m.catalog.Current().RuleTemplate(groupID, ruleTemplateID)
}

// Artifacts derives the deployable artifacts of def without deploying them.
func (m *Manager) Artifacts(ctx context.Context, def Definition) ([]NamedArtifact, error) {
	switch def.Type {
	case TypeTemplate:
		return m.deriver.DeriveFromTemplate(ctx, *def.Template)
	case TypeScratch:
		s := def.Scratch
		halves, err := m.deriver.DeriveFromScratch(ctx, *s)
		if err != nil {
			return nil, err
		}
		composite, err := m.composer.Compose(halves.Input, halves.Output,
			s.Properties.RuleComponents, s.Properties.OutputMappings, s.ID)
		if err != nil {
			return nil, err
		}
		return []NamedArtifact{{Name: s.ID, Artifact: composite}}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidDefinition, def.Type)
	}
}

// deploy derives and deploys def. It returns the number of derived
// artifacts and reports true only if at least one artifact was derived and
// every deploy succeeded.
func (m *Manager) deploy(ctx context.Context, def Definition) (int, bool) {
	artifacts, ok := m.derive(ctx, def)
	if !ok {
		return 0, false
	}

	failed := m.forArtifacts(ctx, "deploy", artifacts, func(ctx context.Context, a NamedArtifact) error {
		if err := m.remote.Deploy(ctx, a.Name, a.Artifact.Content); err != nil {
			return fmt.Errorf("%w: %w", ErrDeploy, err)
		}
		return nil
	})
	return len(artifacts), len(failed) == 0
}

// update derives def and updates every artifact in place on the remote
// engine. The results are those of deploy.
func (m *Manager) update(ctx context.Context, def Definition) (int, bool) {
	artifacts, ok := m.derive(ctx, def)
	if !ok {
		return 0, false
	}

	failed := m.forArtifacts(ctx, "update", artifacts, func(ctx context.Context, a NamedArtifact) error {
		ok, err := m.remote.Update(ctx, a.Name, a.Artifact.Content)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUpdate, err)
		}
		if !ok {
			return fmt.Errorf("%w: engine rejected update of %s", ErrUpdate, a.Name)
		}
		return nil
	})
	return len(artifacts), len(failed) == 0
}

// derive wraps Artifacts with the fail-open policy of create and edit.
func (m *Manager) derive(ctx context.Context, def Definition) ([]NamedArtifact, bool) {
	artifacts, err := m.Artifacts(ctx, def)
	if err != nil {
		m.metrics.derivationFailed()
		m.logger.Error("failed to derive business rule artifacts", "rule_id", def.ID(), "error", err)
		return nil, false
	}
	if len(artifacts) == 0 {
		m.metrics.derivationFailed()
		m.logger.Warn("business rule derived no artifacts", "rule_id", def.ID())
		return nil, false
	}
	return artifacts, true
}

// deploymentNames returns the remote names a rule's artifacts are deployed
// under: <id>_0 .. <id>_{N-1} for a from-template rule and <id> for a
// from-scratch rule. N is the stored artifact count; for records written
// before it was kept (UnknownArtifacts) it is the number of siddhiApp
// templates of the rule template in the current catalog.
func (m *Manager) deploymentNames(def Definition, count int) ([]string, error) {
	switch def.Type {
	case TypeTemplate:
		t := def.Template
		n := count
		if n == UnknownArtifacts {
			rt, err := m.catalog.Current().RuleTemplate(t.TemplateGroupID, t.RuleTemplateID)
			if err != nil {
				return nil, err
			}
			n = len(rt.TemplatesOfType(catalog.TypeSiddhiApp))
		}
		names := make([]string, n)
		for i := range names {
			names[i] = fmt.Sprintf("%s_%d", t.ID, i)
		}
		return names, nil
	case TypeScratch:
		return []string{def.Scratch.ID}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidDefinition, def.Type)
	}
}

func (m *Manager) forArtifacts(ctx context.Context, call string, artifacts []NamedArtifact, fn func(context.Context, NamedArtifact) error) []string {
	byName := make(map[string]NamedArtifact, len(artifacts))
	names := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		byName[a.Name] = a
		names = append(names, a.Name)
	}
	return m.forEach(ctx, call, names, func(ctx context.Context, name string) error {
		return fn(ctx, byName[name])
	})
}

// forEach runs fn for every name with bounded parallelism. Failures are
// logged and do not stop the remaining calls; the failed names are returned
// sorted.
func (m *Manager) forEach(ctx context.Context, call string, names []string, fn func(context.Context, string) error) []string {
	var (
		mu     sync.Mutex
		failed []string
	)

	g := new(errgroup.Group)
	g.SetLimit(m.parallelism)
	for _, name := range names {
		g.Go(func() error {
			err := fn(ctx, name)
			m.metrics.remoteCall(call, err)
			if err != nil {
				m.logger.Error("remote call failed", "call", call, "artifact", name, "error", err)
				mu.Lock()
				failed = append(failed, name)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(failed)
	return failed
}

func (m *Manager) loadRecord(ctx context.Context, id string) (*Record, Definition, error) {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrDefinitionNotFound) {
			return nil, Definition{}, err
		}
		return nil, Definition{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	def, err := DecodeDefinition(rec.Data)
	if err != nil {
		return nil, Definition{}, fmt.Errorf("%w: stored business rule %s: %w", ErrPersistence, id, err)
	}
	return rec, def, nil
}

// mergeArtifacts keeps the larger artifact count so names deployed by an
// earlier derivation stay reachable for delete.
func mergeArtifacts(stored, derived int) int {
	if derived == 0 {
		return stored
	}
	return max(stored, derived)
}

func storedFrom(def Definition, rec *Record) *StoredDefinition {
	return &StoredDefinition{
		Definition: def,
		Deployed:   rec.Deployed,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
}
