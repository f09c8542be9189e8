package web

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/lcalzada-xor/wprobe/internal/core/domain"
)

// MockReportStore is a mock of ports.ReportStore
type MockReportStore struct {
	mock.Mock
}

func (m *MockReportStore) SaveReport(ctx context.Context, report *domain.Report) error {
	args := m.Called(ctx, report)
	return args.Error(0)
}

func (m *MockReportStore) GetReport(ctx context.Context, id string) (*domain.Report, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Report), args.Error(1)
}

func (m *MockReportStore) ListReports(ctx context.Context, limit int) ([]domain.Report, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Report), args.Error(1)
}

func (m *MockReportStore) SaveIVReuse(ctx context.Context, event domain.IVReuseEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockReportStore) ListIVReuses(ctx context.Context, since time.Time) ([]domain.IVReuseEvent, error) {
	args := m.Called(ctx, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.IVReuseEvent), args.Error(1)
}

func (m *MockReportStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockExporter is a mock of ports.ReportExporter
type MockExporter struct {
	mock.Mock
}

func (m *MockExporter) ExportReport(report *domain.Report) ([]byte, error) {
	args := m.Called(report)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// MockInjectionTester is a mock of ports.InjectionTester
type MockInjectionTester struct {
	mock.Mock
}

func (m *MockInjectionTester) RunInjectionTest(ctx context.Context, injectIface, captureIface, peer string) (*domain.Report, error) {
	args := m.Called(ctx, injectIface, captureIface, peer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Report), args.Error(1)
}
