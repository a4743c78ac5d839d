// Package state is the reactive state engine: deep-merge writes over
// entity state, change detection, verbosity-gated history, and the
// lifecycle and state_changed fan-outs.
package state

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/jordansnyder/maestra-core/pkg/bridge"
	"github.com/jordansnyder/maestra-core/pkg/bus"
	"github.com/jordansnyder/maestra-core/pkg/history"
	"github.com/jordansnyder/maestra-core/pkg/model"
	"github.com/jordansnyder/maestra-core/pkg/statejson"
	"github.com/jordansnyder/maestra-core/pkg/store"
	"github.com/jordansnyder/maestra-core/pkg/util"
)

const slugRetries = 3

// Engine coordinates entity writes: it owns change detection, the
// history sink, and event emission. Writes to the same slug serialize
// on a striped lock so merge/compare/persist stays atomic per entity.
type Engine struct {
	store    store.Store
	recorder history.Recorder
	fanout   *bus.Fanout

	locks [64]sync.Mutex
	subs  []bus.Subscription
}

// NewEngine wires the engine. The recorder and fanout may not be nil;
// pass the memory recorder and an empty fanout when running degraded.
func NewEngine(st store.Store, rec history.Recorder, fan *bus.Fanout) *Engine {
	return &Engine{store: st, recorder: rec, fanout: fan}
}

func (e *Engine) lock(slug string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(slug))
	return &e.locks[h.Sum32()%uint32(len(e.locks))]
}

// CreateEntity validates the type, derives the slug, merges the type's
// default_state under the initial state, and announces entity_created.
func (e *Engine) CreateEntity(ctx context.Context, req model.EntityCreate) (*model.Entity, error) {
	if req.Name == "" {
		return nil, util.NewValidationError("name is required")
	}
	et, err := e.store.GetEntityType(ctx, req.EntityTypeID)
	if err != nil {
		return nil, err
	}

	slug := req.Slug
	if slug == "" {
		slug = util.Slugify(req.Name)
	}
	if slug == "" {
		return nil, util.NewValidationError("name yields an empty slug")
	}

	ent := &model.Entity{
		Name:         req.Name,
		Slug:         slug,
		EntityTypeID: et.ID,
		ParentID:     req.ParentID,
		Status:       "active",
		State:        statejson.DeepMerge(et.DefaultState, req.State),
		Description:  req.Description,
		Tags:         req.Tags,
		Metadata:     req.Metadata,
		DeviceID:     req.DeviceID,
	}

	for attempt := 0; ; attempt++ {
		err = e.store.CreateEntity(ctx, ent)
		if err == nil {
			break
		}
		// Auto-derived slugs dodge collisions with a random suffix;
		// an explicit slug conflict is the caller's to resolve.
		if req.Slug == "" && util.IsAlreadyExists(err) && attempt < slugRetries {
			ent.Slug = slug + "-" + util.RandomSuffix(4)
			continue
		}
		return nil, err
	}

	e.emitLifecycle(et.Name, ent, model.EventEntityCreated, map[string]any{
		"name":           ent.Name,
		"slug":           ent.Slug,
		"entity_type_id": ent.EntityTypeID,
		"parent_id":      ent.ParentID,
	})
	return ent, nil
}

// UpdateEntity applies a metadata update and announces entity_updated
// carrying only the fields that were set.
func (e *Engine) UpdateEntity(ctx context.Context, id string, upd model.EntityUpdate) (*model.Entity, error) {
	ent, err := e.store.UpdateEntity(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	typeName := e.typeName(ctx, ent.EntityTypeID)

	changed := map[string]any{}
	if upd.Name != nil {
		changed["name"] = *upd.Name
	}
	if upd.ParentID != nil {
		changed["parent_id"] = *upd.ParentID
	}
	if upd.Status != nil {
		changed["status"] = *upd.Status
	}
	if upd.Description != nil {
		changed["description"] = *upd.Description
	}
	if upd.Tags != nil {
		changed["tags"] = *upd.Tags
	}
	if upd.Metadata != nil {
		changed["metadata"] = *upd.Metadata
	}
	if upd.DeviceID != nil {
		changed["device_id"] = *upd.DeviceID
	}
	e.emitLifecycle(typeName, ent, model.EventEntityUpdated, changed)
	return ent, nil
}

// DeleteEntity removes an entity, cascading or orphaning per the flag,
// and announces entity_deleted.
func (e *Engine) DeleteEntity(ctx context.Context, id string, cascade bool) ([]string, error) {
	ent, err := e.store.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	typeName := e.typeName(ctx, ent.EntityTypeID)

	deleted, err := e.store.DeleteEntity(ctx, id, cascade)
	if err != nil {
		return nil, err
	}
	e.emitLifecycle(typeName, ent, model.EventEntityDeleted, map[string]any{
		"cascade":     cascade,
		"deleted_ids": deleted,
	})
	return deleted, nil
}

// GetState returns the current state, optionally projected down to the
// given dotted paths.
func (e *Engine) GetState(ctx context.Context, id string, paths []string) (*model.StateResponse, error) {
	ent, err := e.store.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	st := ent.State
	if len(paths) > 0 {
		st = statejson.ProjectPaths(st, paths)
	}
	return &model.StateResponse{
		EntityID:       ent.ID,
		Slug:           ent.Slug,
		State:          st,
		StateUpdatedAt: ent.StateUpdatedAt,
	}, nil
}

// Patch deep-merges patch into the stored state.
func (e *Engine) Patch(ctx context.Context, id string, patch model.State, source string) (*model.StateResponse, error) {
	ent, err := e.store.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.write(ctx, ent, mergePatch(patch), source)
}

// Replace overwrites the stored state wholesale.
func (e *Engine) Replace(ctx context.Context, id string, next model.State, source string) (*model.StateResponse, error) {
	ent, err := e.store.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.write(ctx, ent, replaceWith(next), source)
}

// PatchBySlug is Patch keyed by slug, used by bulk writes and the MQTT
// ingress path.
func (e *Engine) PatchBySlug(ctx context.Context, slug string, patch model.State, source string) (*model.StateResponse, error) {
	ent, err := e.store.GetEntityBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	return e.write(ctx, ent, mergePatch(patch), source)
}

// ReplaceBySlug is Replace keyed by slug.
func (e *Engine) ReplaceBySlug(ctx context.Context, slug string, next model.State, source string) (*model.StateResponse, error) {
	ent, err := e.store.GetEntityBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	return e.write(ctx, ent, replaceWith(next), source)
}

// mergePatch and replaceWith defer the next-state computation until
// write holds the per-slug lock, so concurrent patches to disjoint keys
// both land.
func mergePatch(patch model.State) func(model.State) model.State {
	return func(prev model.State) model.State {
		return statejson.DeepMerge(prev, patch)
	}
}

func replaceWith(next model.State) func(model.State) model.State {
	return func(model.State) model.State {
		if next == nil {
			return model.State{}
		}
		return next
	}
}

// BulkGet returns current state per slug. Unknown slugs land in the
// second return value instead of failing the batch.
func (e *Engine) BulkGet(ctx context.Context, slugs []string) (map[string]*model.StateResponse, []string) {
	found := make(map[string]*model.StateResponse, len(slugs))
	var missing []string
	for _, slug := range slugs {
		ent, err := e.store.GetEntityBySlug(ctx, slug)
		if err != nil {
			missing = append(missing, slug)
			continue
		}
		found[slug] = &model.StateResponse{
			EntityID:       ent.ID,
			Slug:           ent.Slug,
			State:          ent.State,
			StateUpdatedAt: ent.StateUpdatedAt,
		}
	}
	return found, missing
}

// BulkUpdate applies each patch in order and reports per-slug outcomes
// ("updated", "not_found", "error"). One bad slug never aborts the rest.
func (e *Engine) BulkUpdate(ctx context.Context, upd model.BulkStateUpdate) map[string]string {
	results := make(map[string]string, len(upd.Updates))
	for slug, patch := range upd.Updates {
		_, err := e.PatchBySlug(ctx, slug, patch, upd.Source)
		switch {
		case err == nil:
			results[slug] = "updated"
		case util.IsNotFound(err):
			results[slug] = "not_found"
		default:
			util.WithEntity(slug).WithError(err).Warn("bulk state update failed")
			results[slug] = "error"
		}
	}
	return results
}

// write is the single commit path: serialize per slug, compute the next
// state against the freshest read, detect change, persist, record
// history per verbosity, emit state_changed.
func (e *Engine) write(ctx context.Context, ent *model.Entity, apply func(model.State) model.State, source string) (*model.StateResponse, error) {
	mu := e.lock(ent.Slug)
	mu.Lock()
	defer mu.Unlock()

	// Re-read under the lock; a concurrent write may have landed since
	// the caller's snapshot, and merging against it would drop its keys.
	fresh, err := e.store.GetEntity(ctx, ent.ID)
	if err != nil {
		return nil, err
	}
	prev := fresh.State
	next := apply(prev)

	changed := statejson.ChangedKeys(prev, next)
	now := time.Now().UTC()

	if len(changed) == 0 {
		if err := e.store.TouchEntityState(ctx, ent.ID, now); err != nil {
			return nil, err
		}
		return &model.StateResponse{
			EntityID: ent.ID, Slug: ent.Slug, State: prev, StateUpdatedAt: now,
		}, nil
	}

	if err := e.store.UpdateEntityState(ctx, ent.ID, next, now); err != nil {
		return nil, err
	}

	typeName := e.typeName(ctx, fresh.EntityTypeID)
	e.recordHistory(ctx, fresh, typeName, prev, next, changed, source, now)

	ev := model.StateChangedEvent{
		Type:          model.EventStateChanged,
		EntityID:      fresh.ID,
		EntitySlug:    fresh.Slug,
		EntityType:    typeName,
		Path:          fresh.Path,
		PreviousState: prev,
		CurrentState:  next,
		ChangedKeys:   changed,
		Source:        source,
		Timestamp:     bus.Timestamp(now),
	}
	e.fanout.PublishJSON(bus.StateSubjects(typeName, fresh.Slug), ev)

	return &model.StateResponse{
		EntityID: fresh.ID, Slug: fresh.Slug, State: next, StateUpdatedAt: now,
	}, nil
}

func (e *Engine) recordHistory(ctx context.Context, ent *model.Entity, typeName string, prev, next model.State, changed []string, source string, now time.Time) {
	deviceID := ""
	if ent.DeviceID != nil {
		deviceID = *ent.DeviceID
	}
	verbosity, err := e.recorder.ResolveVerbosity(ctx, typeName, deviceID)
	if err != nil {
		util.WithEntity(ent.Slug).WithError(err).Warn("verbosity lookup failed")
		verbosity = model.VerbosityStandard
	}
	if verbosity == model.VerbosityMinimal {
		return
	}

	previous := model.State{}
	if verbosity == model.VerbosityVerbose {
		previous = prev
	}
	rec := model.StateHistory{
		Time:          now,
		EntityID:      ent.ID,
		Slug:          ent.Slug,
		EntityType:    typeName,
		Path:          ent.Path,
		State:         next,
		PreviousState: previous,
		ChangedKeys:   changed,
		Source:        source,
	}
	if err := e.recorder.RecordStateChange(ctx, rec); err != nil {
		util.WithEntity(ent.Slug).WithError(err).Warn("history write failed")
	}
}

func (e *Engine) emitLifecycle(typeName string, ent *model.Entity, eventType string, data map[string]any) {
	ev := model.LifecycleEvent{
		Type:       eventType,
		EntityID:   ent.ID,
		EntitySlug: ent.Slug,
		EntityType: typeName,
		Data:       data,
		Timestamp:  bus.Timestamp(time.Now()),
	}
	e.fanout.PublishJSON(bus.LifecycleSubjects(eventType, typeName, ent.Slug), ev)
}

// typeName resolves an entity type id to its name for subjects and
// history rows. Falls back to the id when the lookup fails.
func (e *Engine) typeName(ctx context.Context, typeID string) string {
	et, err := e.store.GetEntityType(ctx, typeID)
	if err != nil {
		return typeID
	}
	return et.Name
}

// StartIngress subscribes to the bridged MQTT state-write topics
// (maestra/entity/state/update/<slug> and .../set/<slug>) so topic-tree
// clients can write state without speaking HTTP.
func (e *Engine) StartIngress(b bus.Bus) error {
	for verb, apply := range map[string]func(context.Context, string, model.State, string) (*model.StateResponse, error){
		"update": e.PatchBySlug,
		"set":    e.ReplaceBySlug,
	} {
		subject := bus.SubjectMQTTIngress + ".maestra.entity.state." + verb + ".*"
		sub, err := b.Subscribe(subject, func(subject string, data []byte) {
			e.handleIngress(subject, data, apply)
		})
		if err != nil {
			return err
		}
		e.subs = append(e.subs, sub)
	}
	return nil
}

// StopIngress tears down the MQTT ingress subscriptions.
func (e *Engine) StopIngress() {
	for _, s := range e.subs {
		if err := s.Unsubscribe(); err != nil {
			util.WithComponent("state").WithError(err).Warn("unsubscribe failed")
		}
	}
	e.subs = nil
}

func (e *Engine) handleIngress(subject string, data []byte, apply func(context.Context, string, model.State, string) (*model.StateResponse, error)) {
	segs := strings.Split(subject, ".")
	slug := segs[len(segs)-1]
	log := util.WithEntity(slug).WithField("component", "state-ingress")

	var env bridge.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.WithError(err).Warn("bad ingress envelope")
		return
	}
	patch, ok := env.Data.(map[string]any)
	if !ok {
		log.Warn("ingress payload is not an object, dropping")
		return
	}
	if _, err := apply(context.Background(), slug, patch, "mqtt"); err != nil {
		log.WithError(err).Warn("ingress state write failed")
	}
}
