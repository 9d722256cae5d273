package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tiendapos/internal/cache"
	"tiendapos/internal/cart"
	"tiendapos/internal/describe"
	"tiendapos/internal/domain"
	"tiendapos/internal/events"
	"tiendapos/internal/objectstore"
	"tiendapos/internal/store"
	"tiendapos/internal/xid"
)

var (
	ErrForbidden           = errors.New("forbidden")
	// ErrIdempotencyConflict rejects a checkout whose key already names a sale
	// recorded from another cart.
	ErrIdempotencyConflict = errors.New("idempotency key already used by another sale")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Cache             cache.RateCache
	RateTTL           time.Duration
	Publisher         events.Publisher
	Images            objectstore.Store
	Carts             *cart.Registry
	Describer         *describe.Describer
	Logger            *zap.Logger
	DefaultLocationID string
}

type Service struct {
	repo              store.Repository
	rates             cache.RateCache
	rateTTL           time.Duration
	publisher         events.Publisher
	images            objectstore.Store
	carts             *cart.Registry
	describer         *describe.Describer
	logger            *zap.Logger
	defaultLocationID string
	now               func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Cache == nil {
		opts.Cache = cache.NoopRateCache{}
	}
	if opts.RateTTL <= 0 {
		opts.RateTTL = time.Minute
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Noop{}
	}
	if opts.Images == nil {
		opts.Images = objectstore.NewMemoryStore("")
	}
	if opts.Carts == nil {
		opts.Carts = cart.NewRegistry(0)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Describer == nil {
		opts.Describer = describe.New(nil, opts.Logger)
	}
	if opts.DefaultLocationID == "" {
		opts.DefaultLocationID = "loc_store_1"
	}

	return &Service{
		repo:              repo,
		rates:             opts.Cache,
		rateTTL:           opts.RateTTL,
		publisher:         opts.Publisher,
		images:            opts.Images,
		carts:             opts.Carts,
		describer:         opts.Describer,
		logger:            opts.Logger,
		defaultLocationID: opts.DefaultLocationID,
		now:               time.Now,
	}
}

func (s *Service) DefaultLocationID() string {
	return s.defaultLocationID
}

func (s *Service) requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	return nil
}

func (s *Service) requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return domain.Actor{}, fmt.Errorf("%w: authentication required", ErrForbidden)
	}
	return actor, nil
}

// resolveLocation applies the default location and maps an unknown id to
// store.ErrInvalidLocation.
func (s *Service) resolveLocation(ctx context.Context, locationID string) (string, error) {
	if locationID == "" {
		locationID = s.defaultLocationID
	}
	if _, err := s.repo.GetLocation(ctx, locationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", store.ErrInvalidLocation, locationID)
		}
		return "", err
	}
	return locationID, nil
}

// publish is best-effort: subscribers only refresh caches from the feed.
func (s *Service) publish(ctx context.Context, eventType string, key string, payload any) {
	event, err := events.New(eventType, key, payload)
	if err != nil {
		s.logger.Warn("failed to encode event", zap.String("type", eventType), zap.Error(err))
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, event); err != nil {
		s.logger.Warn("failed to publish event",
			zap.String("type", eventType),
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now().UTC(),
	}); err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err),
		)
	}
}

// ListAuditLogs returns audit entries for one UTC day (YYYY-MM-DD, today when empty).
func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}

	day := s.now().UTC().Truncate(24 * time.Hour)
	if date != "" {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrValidation)
		}
		day = parsed.UTC()
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, day, day.Add(24*time.Hour), limit)
}
