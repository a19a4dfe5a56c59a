package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"sigep.org/internal/obs"
)

// Recorder turns entity mutations into audit records.
type Recorder struct {
	repo Repository
	feed *Feed
	now  func() time.Time
}

func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo, feed: NewFeed(), now: func() time.Time { return time.Now().UTC() }}
}

// Subscribe streams records stored from now on that match f.
func (r *Recorder) Subscribe(ctx context.Context, f Filter) <-chan Record {
	return r.feed.Subscribe(ctx, f)
}

// RecordCreate stores the created entity as the after-snapshot.
func (r *Recorder) RecordCreate(ctx context.Context, entity Entity, actor Actor) {
	if entity == nil {
		r.fail(ctx, ActionCreate, "", errors.New("nil entity"))
		return
	}
	after, err := snapshot(entity)
	if err != nil {
		r.fail(ctx, ActionCreate, entity.AuditTable(), err)
		return
	}
	r.append(ctx, Record{
		Table:    entity.AuditTable(),
		Action:   ActionCreate,
		EntityID: entity.AuditID(),
		After:    &after,
	}, actor)
}

// RecordUpdate stores both snapshots. The field diff is only logged.
func (r *Recorder) RecordUpdate(ctx context.Context, before, after Entity, actor Actor) {
	if before == nil || after == nil {
		r.fail(ctx, ActionUpdate, "", errors.New("update needs both snapshots"))
		return
	}
	prev, err := snapshot(before)
	if err != nil {
		r.fail(ctx, ActionUpdate, after.AuditTable(), err)
		return
	}
	next, err := snapshot(after)
	if err != nil {
		r.fail(ctx, ActionUpdate, after.AuditTable(), err)
		return
	}
	id := after.AuditID()
	if id == 0 {
		id = before.AuditID()
	}
	if changes, err := Diff(before, after); err == nil && len(changes) > 0 {
		obs.WithRequest(ctx).Info("audit update diff",
			zap.String("table", after.AuditTable()),
			zap.Int64("entity_id", id),
			zap.Any("changes", changes),
		)
	}
	r.append(ctx, Record{
		Table:    after.AuditTable(),
		Action:   ActionUpdate,
		EntityID: id,
		Before:   &prev,
		After:    &next,
	}, actor)
}

// RecordDelete stores the removed entity as the before-snapshot.
func (r *Recorder) RecordDelete(ctx context.Context, entity Entity, actor Actor) {
	if entity == nil {
		r.fail(ctx, ActionDelete, "", errors.New("nil entity"))
		return
	}
	before, err := snapshot(entity)
	if err != nil {
		r.fail(ctx, ActionDelete, entity.AuditTable(), err)
		return
	}
	r.append(ctx, Record{
		Table:    entity.AuditTable(),
		Action:   ActionDelete,
		EntityID: entity.AuditID(),
		Before:   &before,
	}, actor)
}

// Query returns matching records newest-first. Unlike recording, read failures propagate.
func (r *Recorder) Query(ctx context.Context, f Filter) ([]Record, error) {
	records, err := r.repo.Query(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	SortNewestFirst(records)
	return records, nil
}

func (r *Recorder) append(ctx context.Context, rec Record, actor Actor) {
	rec.UserID = actor.UserID
	rec.IP = actor.IP
	rec.UserAgent = actor.UserAgent
	rec.Timestamp = r.now()
	stored, err := r.repo.Append(ctx, rec)
	if err != nil {
		r.fail(ctx, rec.Action, rec.Table, err)
		return
	}
	r.feed.Publish(stored)
	obs.WithRequest(ctx).Debug("audit recorded",
		zap.Int64("audit_id", stored.ID),
		zap.String("table", stored.Table),
		zap.String("action", string(stored.Action)),
		zap.Int64("entity_id", stored.EntityID),
		zap.String("user_id", stored.UserID),
	)
}

func (r *Recorder) fail(ctx context.Context, action Action, table string, err error) {
	obs.AuditFailures.WithLabelValues(string(action)).Inc()
	obs.WithRequest(ctx).Warn("audit record dropped",
		zap.String("action", string(action)),
		zap.String("table", table),
		zap.Error(err),
	)
}

func snapshot(entity Entity) (string, error) {
	data, err := json.MarshalIndent(entity, "", "  ")
	if err != nil {
		return "", fmt.Errorf("snapshot %s: %w", entity.AuditTable(), err)
	}
	return string(data), nil
}

// SortNewestFirst orders by timestamp descending, ties broken by id descending.
func SortNewestFirst(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].ID > records[j].ID
		}
		return records[i].Timestamp.After(records[j].Timestamp)
	})
}
