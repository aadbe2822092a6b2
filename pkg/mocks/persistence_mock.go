package mocks

import (
	"context"
	"time"

	"github.com/dukex/flowpages/pkg/models"
	"github.com/dukex/flowpages/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockRunRepository is a mock implementation of persistence.RunRepository interface.
type MockRunRepository struct {
	mock.Mock
}

func (m *MockRunRepository) Save(ctx context.Context, run *models.Run) error {
	args := m.Called(ctx, run)

	return args.Error(0)
}

func (m *MockRunRepository) GetByID(ctx context.Context, runID string) (*models.Run, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Run), args.Error(1)
}

func (m *MockRunRepository) List(ctx context.Context) ([]*models.Run, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Run), args.Error(1)
}

func (m *MockRunRepository) Delete(ctx context.Context, runID string) error {
	args := m.Called(ctx, runID)

	return args.Error(0)
}

func (m *MockRunRepository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	args := m.Called(ctx, cutoff)

	return args.Int(0), args.Error(1)
}

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock

	RunRepo *MockRunRepository
}

func NewMockPersistence() *MockPersistence {
	return &MockPersistence{RunRepo: &MockRunRepository{}}
}

//nolint:ireturn // mirrors the persistence.Persistence interface
func (m *MockPersistence) Runs() persistence.RunRepository {
	return m.RunRepo
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
