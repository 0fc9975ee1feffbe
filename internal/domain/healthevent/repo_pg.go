package healthevent

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/healthevents/internal/domain/timing"
	"github.com/ehr/healthevents/internal/platform/db"
)

const table = "health_events"

// insertChunk keeps one INSERT well below the 65535 bind parameter limit.
const insertChunk = 1000

var dialect = goqu.Dialect("postgres")

var eventCols = []interface{}{
	"id", "patient_id", "event_datetime", "exact_time_is_setup", "event_timing",
	"event_type", "event_reference_id", "seq", "text", "created_at",
}

type storePG struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewStorePG(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool, now: time.Now}
}

func (s *storePG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, s.pool)
}

func (s *storePG) CreateEvents(ctx context.Context, events []*HealthEvent) error {
	if len(events) == 0 {
		return nil
	}
	stamped := stamp(events, s.now())
	if err := db.RunInTx(ctx, s.pool, func(ctx context.Context) error {
		return s.insert(ctx, stamped)
	}); err != nil {
		return err
	}
	adopt(events, stamped)
	return nil
}

func (s *storePG) ReplaceSeries(ctx context.Context, referenceID string, events []*HealthEvent) error {
	stamped := stamp(events, s.now())
	if err := db.RunInTx(ctx, s.pool, func(ctx context.Context) error {
		if _, err := s.deleteSeries(ctx, referenceID); err != nil {
			return err
		}
		return s.insert(ctx, stamped)
	}); err != nil {
		return err
	}
	adopt(events, stamped)
	return nil
}

func (s *storePG) DeleteEventSeries(ctx context.Context, referenceID string) (int64, error) {
	return s.deleteSeries(ctx, referenceID)
}

func (s *storePG) deleteSeries(ctx context.Context, referenceID string) (int64, error) {
	query, args, err := deleteSeriesQuery(referenceID)
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}
	tag, err := s.conn(ctx).Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete series %s: %w", referenceID, err)
	}
	return tag.RowsAffected(), nil
}

// stamp returns copies of events carrying ids and creation times. The
// originals stay untouched until the write commits.
func stamp(events []*HealthEvent, now time.Time) []*HealthEvent {
	now = now.UTC()
	out := make([]*HealthEvent, len(events))
	for i, e := range events {
		c := *e
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		c.CreatedAt = now
		out[i] = &c
	}
	return out
}

// adopt copies the persisted ids and creation times back onto dst.
func adopt(dst, stamped []*HealthEvent) {
	for i, e := range dst {
		e.ID = stamped[i].ID
		e.CreatedAt = stamped[i].CreatedAt
	}
}

// insert writes stamped events in chunks. It must run inside a transaction so
// a failed chunk discards the earlier ones.
func (s *storePG) insert(ctx context.Context, events []*HealthEvent) error {
	for start := 0; start < len(events); start += insertChunk {
		end := min(start+insertChunk, len(events))
		chunk := events[start:end]

		query, args, err := insertQuery(chunk)
		if err != nil {
			return fmt.Errorf("build insert: %w", err)
		}
		tag, err := s.conn(ctx).Exec(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreWrite, err)
		}
		if tag.RowsAffected() != int64(len(chunk)) {
			return fmt.Errorf("%w: inserted %d of %d events", ErrStoreWrite, tag.RowsAffected(), len(chunk))
		}
	}
	return nil
}

func (s *storePG) ListByReference(ctx context.Context, referenceID string, limit, offset int) ([]*HealthEvent, int, error) {
	return s.list(ctx, byReference(referenceID), []exp.OrderedExpression{goqu.C("seq").Asc()}, limit, offset)
}

func (s *storePG) ListInWindow(ctx context.Context, q WindowQuery, limit, offset int) ([]*HealthEvent, int, error) {
	where, ok := inWindow(q)
	if !ok {
		return nil, 0, nil
	}
	order := []exp.OrderedExpression{
		goqu.C("event_datetime").Asc(),
		goqu.C("event_reference_id").Asc(),
		goqu.C("seq").Asc(),
	}
	return s.list(ctx, where, order, limit, offset)
}

func (s *storePG) list(ctx context.Context, where exp.Expression, order []exp.OrderedExpression, limit, offset int) ([]*HealthEvent, int, error) {
	countSQL, countArgs, err := countQuery(where)
	if err != nil {
		return nil, 0, fmt.Errorf("build count: %w", err)
	}
	var total int
	if err := s.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count health events: %w", err)
	}

	query, args, err := selectQuery(where, order, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("build select: %w", err)
	}
	rows, err := s.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list health events: %w", err)
	}
	defer rows.Close()

	var items []*HealthEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

func scanEvent(row pgx.Row) (*HealthEvent, error) {
	var e HealthEvent
	var code string
	err := row.Scan(&e.ID, &e.PatientID, &e.EventDateTime, &e.ExactTimeIsSetup, &code,
		&e.Resource.EventType, &e.Resource.EventReferenceID, &e.Sequence, &e.Resource.Text, &e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan health event: %w", err)
	}
	e.EventTiming = timing.EventTiming(code)
	e.EventDateTime = e.EventDateTime.UTC()
	return &e, nil
}

func insertQuery(events []*HealthEvent) (string, []interface{}, error) {
	rows := make([]interface{}, 0, len(events))
	for _, e := range events {
		rows = append(rows, goqu.Record{
			"id":                  e.ID,
			"patient_id":          e.PatientID,
			"event_datetime":      e.EventDateTime.UTC(),
			"exact_time_is_setup": e.ExactTimeIsSetup,
			"event_timing":        string(e.EventTiming),
			"event_type":          e.Resource.EventType,
			"event_reference_id":  e.Resource.EventReferenceID,
			"seq":                 e.Sequence,
			"text":                e.Resource.Text,
			"created_at":          e.CreatedAt,
		})
	}
	return dialect.Insert(table).Prepared(true).Rows(rows...).ToSQL()
}

func deleteSeriesQuery(referenceID string) (string, []interface{}, error) {
	return dialect.Delete(table).Prepared(true).Where(byReference(referenceID)).ToSQL()
}

func countQuery(where exp.Expression) (string, []interface{}, error) {
	return dialect.From(table).Prepared(true).Select(goqu.COUNT("*")).Where(where).ToSQL()
}

func selectQuery(where exp.Expression, order []exp.OrderedExpression, limit, offset int) (string, []interface{}, error) {
	ds := dialect.From(table).Prepared(true).Select(eventCols...).Where(where).Order(order...)
	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}
	if offset > 0 {
		ds = ds.Offset(uint(offset))
	}
	return ds.ToSQL()
}

func byReference(referenceID string) exp.Expression {
	return goqu.Ex{"event_reference_id": referenceID}
}

// inWindow matches exact-time events inside q.Window and events of q.Timing
// on q.Day. It reports false when q selects nothing.
func inWindow(q WindowQuery) (exp.Expression, bool) {
	var alts []exp.Expression
	if q.Window.End.After(q.Window.Start) {
		alts = append(alts, goqu.And(
			goqu.C("exact_time_is_setup").IsTrue(),
			goqu.C("event_datetime").Gte(q.Window.Start.UTC()),
			goqu.C("event_datetime").Lt(q.Window.End.UTC()),
		))
	}
	if q.Timing != "" && q.Day.End.After(q.Day.Start) {
		alts = append(alts, goqu.And(
			goqu.C("event_timing").Eq(string(q.Timing)),
			goqu.C("event_datetime").Gte(q.Day.Start.UTC()),
			goqu.C("event_datetime").Lt(q.Day.End.UTC()),
		))
	}
	if len(alts) == 0 {
		return nil, false
	}
	return goqu.And(goqu.C("patient_id").Eq(q.PatientID), goqu.Or(alts...)), true
}
