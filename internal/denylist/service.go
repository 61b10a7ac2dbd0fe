package denylist

import (
	"context"
	"time"

	"github.com/scanpoint/verity/internal/cache"
	"github.com/scanpoint/verity/internal/config"
	"github.com/scanpoint/verity/internal/decision"
	"github.com/scanpoint/verity/internal/denylist/domain"
	"go.uber.org/zap"
)

// defaultCacheTTL keeps repeat scans of the same ID from hammering the table;
// short enough that a newly filed ban lands within a minute.
const defaultCacheTTL = 60 * time.Second

// Service adapts the deny-list repository to the decision engine's lookup
// interface, with a small TTL cache keyed by document identity.
type Service struct {
	repo     domain.Repository
	cache    cache.Cache[string, *decision.Record]
	cacheTTL time.Duration
	log      *zap.Logger
}

func NewService(cfg config.Config, repo domain.Repository, log *zap.Logger) *Service {
	ttl := cfg.Denylist.CacheTTL
	if ttl == 0 {
		ttl = defaultCacheTTL
	}
	var c cache.Cache[string, *decision.Record] = cache.NewTTLCache[string, *decision.Record]()
	if ttl < 0 {
		c = cache.NoopCache[string, *decision.Record]{}
	}
	return &Service{
		repo:     repo,
		cache:    c,
		cacheTTL: ttl,
		log:      log.Named("denylist"),
	}
}

func (s *Service) FindBannedCustomer(ctx context.Context, q decision.Query) (*decision.Record, error) {
	key := q.DocumentType + "|" + q.DocumentNumber + "|" + q.IssuingRegion
	if q.DocumentNumber != "" {
		if record, ok := s.cache.Get(key); ok {
			return record, nil
		}
	}

	row, err := s.repo.FindBanned(ctx, domain.Query{
		DocumentType:   q.DocumentType,
		DocumentNumber: q.DocumentNumber,
		IssuingRegion:  q.IssuingRegion,
		FirstName:      q.FirstName,
		LastName:       q.LastName,
		DateOfBirth:    q.DateOfBirth,
	})
	if err != nil {
		return nil, err
	}

	var record *decision.Record
	if row != nil {
		record = &decision.Record{Note: row.Note}
	}
	if q.DocumentNumber != "" {
		s.cache.Set(key, record, s.cacheTTL)
	}
	return record, nil
}
