package patient

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/healthevents/internal/platform/cache"
	"github.com/ehr/healthevents/internal/platform/db"
)

// CachedRepository reads profiles through a cache. Cache failures are logged
// and the underlying repository is used instead.
type CachedRepository struct {
	repo  ProfileRepository
	cache cache.Provider
	ttl   time.Duration
}

func NewCachedRepository(repo ProfileRepository, c cache.Provider, ttl time.Duration) *CachedRepository {
	if c == nil {
		c = cache.Nop{}
	}
	return &CachedRepository{repo: repo, cache: c, ttl: ttl}
}

func cacheKey(ctx context.Context, patientID uuid.UUID) string {
	return "timing-profile:" + db.TenantFromContext(ctx) + ":" + patientID.String()
}

func (r *CachedRepository) Get(ctx context.Context, patientID uuid.UUID) (*TimingProfile, error) {
	key := cacheKey(ctx, patientID)
	b, err := r.cache.Get(ctx, key)
	switch {
	case err == nil:
		var p TimingProfile
		if jerr := json.Unmarshal(b, &p); jerr == nil {
			return &p, nil
		}
		zerolog.Ctx(ctx).Warn().Str("key", key).Msg("discarding undecodable cached profile")
	case !errors.Is(err, cache.ErrMiss):
		zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("profile cache read failed")
	}

	p, err := r.repo.Get(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(p); err == nil {
		if err := r.cache.Set(ctx, key, b, r.ttl); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("profile cache write failed")
		}
	}
	return p, nil
}

func (r *CachedRepository) Upsert(ctx context.Context, p *TimingProfile) error {
	if err := r.repo.Upsert(ctx, p); err != nil {
		return err
	}
	r.evict(ctx, p.PatientID)
	return nil
}

func (r *CachedRepository) Delete(ctx context.Context, patientID uuid.UUID) error {
	if err := r.repo.Delete(ctx, patientID); err != nil {
		return err
	}
	r.evict(ctx, patientID)
	return nil
}

func (r *CachedRepository) evict(ctx context.Context, patientID uuid.UUID) {
	key := cacheKey(ctx, patientID)
	if err := r.cache.Delete(ctx, key); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("profile cache evict failed")
	}
}
