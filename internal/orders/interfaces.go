package orders

import (
	"context"
	"time"

	"github.com/angelmondragon/warehouse-allocator/internal/allocation"
	"github.com/angelmondragon/warehouse-allocator/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository defines persistence operations for orders and their lines.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByIDForClient(ctx context.Context, id, clientID uuid.UUID) (*models.Order, error)
	LockByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Order, error)
	UpdateStatus(ctx context.Context, tx *gorm.DB, order *models.Order) error
	UpdateLifecycle(ctx context.Context, order *models.Order) error
	ListPartiallyReserved(ctx context.Context, query CandidateQuery) ([]models.Order, error)
}

// CandidateQuery selects one page of partially reserved orders ordered by
// (created_at, id). A zero AfterID starts from the oldest order.
type CandidateQuery struct {
	// ProductIDs keeps orders that still miss units of one of the products.
	// Empty keeps every partially reserved order.
	ProductIDs     []uuid.UUID
	AfterCreatedAt time.Time
	AfterID        uuid.UUID
	// Limit caps the page size. Zero returns every match.
	Limit int
}

// Next returns the query for the page after the given one.
func (q CandidateQuery) Next(page []models.Order) CandidateQuery {
	if len(page) == 0 {
		return q
	}
	last := page[len(page)-1]
	q.AfterCreatedAt, q.AfterID = last.CreatedAt, last.ID
	return q
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Allocator runs the allocation engine inside an existing transaction.
type Allocator interface {
	Allocate(ctx context.Context, tx *gorm.DB, order *models.Order) (allocation.Result, error)
}

// Reoptimizer gives stock released by a cancel to waiting orders.
type Reoptimizer interface {
	ReoptimizeForProducts(ctx context.Context, productIDs []uuid.UUID) ([]models.Order, error)
}
