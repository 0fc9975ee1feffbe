package patient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/healthevents/internal/platform/db"
)

const profileTable = "patient_timing_profiles"

var dialect = goqu.Dialect("postgres")

type profileRepoPG struct{ pool *pgxpool.Pool }

func NewProfileRepoPG(pool *pgxpool.Pool) ProfileRepository {
	return &profileRepoPG{pool: pool}
}

func (r *profileRepoPG) Get(ctx context.Context, patientID uuid.UUID) (*TimingProfile, error) {
	query, args, err := getProfileQuery(patientID)
	if err != nil {
		return nil, err
	}
	p := TimingProfile{PatientID: patientID}
	var raw []byte
	err = db.Conn(ctx, r.pool).QueryRow(ctx, query, args...).Scan(&p.Timezone, &raw, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get timing profile: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p.Overrides); err != nil {
			return nil, fmt.Errorf("decode overrides: %w", err)
		}
	}
	return &p, nil
}

func (r *profileRepoPG) Upsert(ctx context.Context, p *TimingProfile) error {
	query, args, err := upsertProfileQuery(p)
	if err != nil {
		return err
	}
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, query, args...).Scan(&p.UpdatedAt); err != nil {
		return fmt.Errorf("upsert timing profile: %w", err)
	}
	return nil
}

func (r *profileRepoPG) Delete(ctx context.Context, patientID uuid.UUID) error {
	query, args, err := dialect.Delete(profileTable).Prepared(true).
		Where(goqu.Ex{"patient_id": patientID}).ToSQL()
	if err != nil {
		return err
	}
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete timing profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func getProfileQuery(patientID uuid.UUID) (string, []interface{}, error) {
	return dialect.From(profileTable).Prepared(true).
		Select("timezone", "overrides", "updated_at").
		Where(goqu.Ex{"patient_id": patientID}).
		ToSQL()
}

func upsertProfileQuery(p *TimingProfile) (string, []interface{}, error) {
	overrides := []byte("{}")
	if len(p.Overrides) > 0 {
		b, err := json.Marshal(p.Overrides)
		if err != nil {
			return "", nil, fmt.Errorf("encode overrides: %w", err)
		}
		overrides = b
	}
	return dialect.Insert(profileTable).Prepared(true).
		Rows(goqu.Record{
			"patient_id": p.PatientID,
			"timezone":   p.Timezone,
			"overrides":  string(overrides),
		}).
		OnConflict(goqu.DoUpdate("patient_id", goqu.Record{
			"timezone":   goqu.L("EXCLUDED.timezone"),
			"overrides":  goqu.L("EXCLUDED.overrides"),
			"updated_at": goqu.L("NOW()"),
		})).
		Returning("updated_at").
		ToSQL()
}
