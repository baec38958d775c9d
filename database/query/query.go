// SPDX-License-Identifier: ice License 1.0

package query

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"

	"github.com/ice-blockchain/relay/database/memory"
	"github.com/ice-blockchain/relay/model"
)

const (
	selectEventColumns = `select e.id, e.pubkey, e.created_at, e.kind, e.content, e.sig, e.tags as jtags from events e`
	selectEventOrder   = ` order by e.created_at desc, e.id asc limit :limit`
)

var ErrUnexpectedRowsAffected = errors.New("unexpected rows affected")

type databaseEvent struct {
	model.Event
	Jtags string
}

func (db *Store) Add(ctx context.Context, event *model.Event) error {
	const (
		upsertEvent = `insert or replace into events
	(id, pubkey, created_at, kind, content, sig, tags)
values
	(:id, :pubkey, :created_at, :kind, :content, :sig, :tags)`
		deleteTags = `delete from event_tags where event_id = :event_id`
		insertTag  = `insert into event_tags (event_id, name, value) values (:event_id, :name, :value)`
	)

	jtags, err := json.Marshal(nonNilTags(event.Tags))
	if err != nil {
		return errors.Wrapf(err, "failed to marshal tags of event %v", event.ID)
	}
	stmts, err := db.prepareAll(ctx, upsertEvent, deleteTags, insertTag)
	if err != nil {
		return err
	}
	upsertStmt, deleteTagsStmt, insertTagStmt := stmts[0], stmts[1], stmts[2]

	return db.inTx(ctx, func(tx *sqlx.Tx) error {
		rowsAffected, err := db.exec(ctx, tx, upsertStmt, map[string]any{
			"id":         event.ID,
			"pubkey":     event.PubKey,
			"created_at": int64(event.CreatedAt),
			"kind":       event.Kind,
			"content":    event.Content,
			"sig":        event.Sig,
			"tags":       string(jtags),
		})
		if err != nil {
			return errors.Wrapf(err, "failed to upsert event %v", event.ID)
		}
		if rowsAffected == 0 {
			return errors.Wrapf(ErrUnexpectedRowsAffected, "event %v", event.ID)
		}
		if _, err = db.exec(ctx, tx, deleteTagsStmt, map[string]any{"event_id": event.ID}); err != nil {
			return errors.Wrapf(err, "failed to delete tags of event %v", event.ID)
		}
		for _, tag := range event.Tags {
			if len(tag) == 0 {
				continue
			}
			var value string
			if len(tag) > 1 {
				value = tag[1]
			}
			if _, err = db.exec(ctx, tx, insertTagStmt, map[string]any{"event_id": event.ID, "name": tag[0], "value": value}); err != nil {
				return errors.Wrapf(err, "failed to insert tag %v of event %v", tag[0], event.ID)
			}
		}

		return nil
	})
}

func (db *Store) Delete(ctx context.Context, ids []string) error {
	const (
		deleteEvent = `delete from events where id = :id`
		deleteTags  = `delete from event_tags where event_id = :id`
	)

	if len(ids) == 0 {
		return nil
	}
	stmts, err := db.prepareAll(ctx, deleteEvent, deleteTags)
	if err != nil {
		return err
	}
	deleteEventStmt, deleteTagsStmt := stmts[0], stmts[1]

	return db.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, id := range ids {
			if _, err := db.exec(ctx, tx, deleteTagsStmt, map[string]any{"id": id}); err != nil {
				return errors.Wrapf(err, "failed to delete tags of event %v", id)
			}
			if _, err := db.exec(ctx, tx, deleteEventStmt, map[string]any{"id": id}); err != nil {
				return errors.Wrapf(err, "failed to delete event %v", id)
			}
		}

		return nil
	})
}

func (db *Store) Get(ctx context.Context, id string) (*model.Event, error) {
	events, err := db.selectEvents(ctx, selectEventColumns+` where e.id = :id`+selectEventOrder, map[string]any{"id": id, "limit": 1})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get event %v", id)
	}
	if len(events) == 0 {
		return nil, model.ErrEventNotFound
	}

	return events[0], nil
}

func (db *Store) All(ctx context.Context) ([]*model.Event, error) {
	events, err := db.selectEvents(ctx, selectEventColumns+selectEventOrder, map[string]any{"limit": memory.AllLimit})

	return events, errors.Wrap(err, "failed to select all events")
}

func (db *Store) Query(ctx context.Context, filters model.Filters) ([]*model.Event, error) {
	var result []*model.Event
	for i := range filters {
		where, params := newWhereBuilder(filterName(i)).Build(&filters[i])
		params["limit"] = model.EffectiveLimit(&filters[i], memory.DefaultQueryLimit)
		events, err := db.selectEvents(ctx, selectEventColumns+" where "+where+selectEventOrder, params)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to query filter %d", i)
		}
		result = append(result, events...)
	}

	return result, nil
}

func (db *Store) Count(ctx context.Context, filters model.Filters) (int64, error) {
	var total int64
	for i := range filters {
		where, params := newWhereBuilder(filterName(i)).Build(&filters[i])
		// Negative limit is unbounded in sqlite.
		params["limit"] = model.EffectiveLimit(&filters[i], -1)
		stmt, err := db.prepare(ctx, `select count(*) from (select 1 from events e where `+where+` limit :limit)`)
		if err != nil {
			return 0, errors.Wrapf(err, "failed to prepare count for filter %d", i)
		}
		var count int64
		if err = stmt.GetContext(ctx, &count, params); err != nil {
			return 0, errors.Wrapf(err, "failed to count filter %d", i)
		}
		total += count
	}

	return total, nil
}

func (db *Store) selectEvents(ctx context.Context, sql string, params map[string]any) ([]*model.Event, error) {
	stmt, err := db.prepare(ctx, sql)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to prepare select sql: `%v`", sql)
	}
	rows, err := stmt.QueryxContext(ctx, params)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to select events: `%v`", sql)
	}
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		ev, sErr := scanEvent(rows)
		if sErr != nil {
			return nil, sErr
		}
		events = append(events, ev)
	}

	return events, errors.Wrap(rows.Err(), "failed to iterate events")
}

func scanEvent(rows *sqlx.Rows) (*model.Event, error) {
	var ev databaseEvent
	if err := rows.StructScan(&ev); err != nil {
		return nil, errors.Wrap(err, "failed to struct scan")
	}
	ev.Tags = model.Tags{}
	if err := ev.Tags.Scan(ev.Jtags); err != nil {
		return nil, errors.Wrapf(err, "failed to decode tags of event %v", ev.ID)
	}

	return &ev.Event, nil
}

func nonNilTags(tags model.Tags) model.Tags {
	if tags == nil {
		return model.Tags{}
	}

	return tags
}
