package pg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"clawbounty.market/internal/core/domain"
)

type Repository struct {
	db *gorm.DB
}

// NewRepository connects to Postgres and migrates the marketplace tables.
func NewRepository(dsn string) (*Repository, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}

	r := NewWithDB(db)
	if err := r.Migrate(); err != nil {
		return nil, err
	}
	return r, nil
}

// NewWithDB wraps an already opened connection without migrating.
func NewWithDB(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(&domain.Bounty{}, &domain.Service{})
}

// DB returns the underlying gorm DB instance
func (r *Repository) DB() *gorm.DB {
	return r.db
}

func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var result int
	if err := r.db.WithContext(ctx).Raw("SELECT 1").Scan(&result).Error; err != nil {
		return fmt.Errorf("database query failed: %w", err)
	}
	return nil
}

func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error, what, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, domain.ErrNotFound)
	}
	return err
}

func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

// Bounty methods
func (r *Repository) CreateBounty(ctx context.Context, bounty *domain.Bounty) error {
	return r.db.WithContext(ctx).Create(bounty).Error
}

func (r *Repository) GetBounty(ctx context.Context, id string) (*domain.Bounty, error) {
	var bounty domain.Bounty
	if err := r.db.WithContext(ctx).First(&bounty, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "bounty", id)
	}
	return &bounty, nil
}

func (r *Repository) ListBounties(ctx context.Context, f domain.BountyFilter) ([]*domain.Bounty, int64, error) {
	q := r.db.WithContext(ctx).Model(&domain.Bounty{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.MinBudget > 0 {
		q = q.Where("budget >= ?", f.MinBudget)
	}
	if f.MaxBudget > 0 {
		q = q.Where("budget <= ?", f.MaxBudget)
	}
	if f.Search != "" {
		p := likePattern(f.Search)
		q = q.Where("title ILIKE ? OR description ILIKE ? OR tags ILIKE ?", p, p, p)
	}

	q = q.Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var bounties []*domain.Bounty
	if err := q.Order("created_at desc").Offset(f.Offset).Limit(f.Limit).Find(&bounties).Error; err != nil {
		return nil, 0, err
	}
	return bounties, total, nil
}

func (r *Repository) ListOpenBountiesByCategory(ctx context.Context, category domain.Category) ([]*domain.Bounty, error) {
	var bounties []*domain.Bounty
	if err := r.db.WithContext(ctx).
		Where("status = ? AND category = ?", domain.BountyStatusOpen, category).
		Order("created_at asc").
		Find(&bounties).Error; err != nil {
		return nil, err
	}
	return bounties, nil
}

// TransitionBounty writes every column of bounty in one conditional UPDATE.
// Zero rows affected means another writer moved the bounty first.
func (r *Repository) TransitionBounty(ctx context.Context, bounty *domain.Bounty, from ...domain.BountyStatus) error {
	if len(from) == 0 {
		return fmt.Errorf("transition bounty %s: no source status: %w", bounty.ID, domain.ErrInvalidState)
	}
	res := r.db.WithContext(ctx).
		Model(&domain.Bounty{}).
		Where("id = ? AND status IN ?", bounty.ID, from).
		Select("*").
		Omit("id", "created_at").
		Updates(bounty)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("bounty %s is no longer %v: %w", bounty.ID, from, domain.ErrInvalidState)
	}
	return nil
}

func (r *Repository) ListExpiredBounties(ctx context.Context, now time.Time) ([]*domain.Bounty, error) {
	var bounties []*domain.Bounty
	if err := r.db.WithContext(ctx).
		Where("status IN ? AND expires_at IS NOT NULL AND expires_at <= ?",
			[]domain.BountyStatus{domain.BountyStatusOpen, domain.BountyStatusClaimed}, now).
		Find(&bounties).Error; err != nil {
		return nil, err
	}
	return bounties, nil
}

func (r *Repository) CountBountiesSince(ctx context.Context, posterName string, since time.Time) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Bounty{}).
		Where("poster_name = ? AND created_at >= ?", posterName, since).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *Repository) CountBountiesByStatus(ctx context.Context) (map[domain.BountyStatus]int64, error) {
	var rows []struct {
		Status domain.BountyStatus
		Count  int64
	}
	if err := r.db.WithContext(ctx).Model(&domain.Bounty{}).
		Select("status, count(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[domain.BountyStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// Service methods
func (r *Repository) CreateService(ctx context.Context, service *domain.Service) error {
	return r.db.WithContext(ctx).Create(service).Error
}

func (r *Repository) GetService(ctx context.Context, id string) (*domain.Service, error) {
	var service domain.Service
	if err := r.db.WithContext(ctx).First(&service, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "service", id)
	}
	return &service, nil
}

func (r *Repository) UpdateService(ctx context.Context, service *domain.Service) error {
	return r.db.WithContext(ctx).Save(service).Error
}

func (r *Repository) ListServices(ctx context.Context, f domain.ServiceFilter) ([]*domain.Service, int64, error) {
	q := r.db.WithContext(ctx).Model(&domain.Service{}).Where("is_active = ?", true)
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.MinPrice > 0 {
		q = q.Where("price >= ?", f.MinPrice)
	}
	if f.MaxPrice > 0 {
		q = q.Where("price <= ?", f.MaxPrice)
	}
	if f.Location != "" {
		q = q.Where("location ILIKE ?", likePattern(f.Location))
	}
	if f.ShippingAvailable != nil {
		q = q.Where("shipping_available = ?", *f.ShippingAvailable)
	}
	if f.ACPOnly {
		q = q.Where("acp_agent_wallet IS NOT NULL AND acp_agent_wallet <> ''")
	}
	if f.Search != "" {
		p := likePattern(f.Search)
		q = q.Where("name ILIKE ? OR description ILIKE ? OR tags ILIKE ?", p, p, p)
	}

	q = q.Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var services []*domain.Service
	if err := q.Order("created_at desc").Offset(f.Offset).Limit(f.Limit).Find(&services).Error; err != nil {
		return nil, 0, err
	}
	return services, total, nil
}

func (r *Repository) CountActiveServices(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Service{}).Where("is_active = ?", true).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
