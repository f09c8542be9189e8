package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/lcalzada-xor/wprobe/internal/core/domain"
	"github.com/lcalzada-xor/wprobe/internal/core/ports"
)

// SQLiteAdapter implements ports.ReportStore using GORM and SQLite.
type SQLiteAdapter struct {
	db *gorm.DB
}

// ReportModel is the GORM model for injection test reports.
type ReportModel struct {
	ID         string `gorm:"primaryKey"`
	StartedAt  time.Time
	FinishedAt time.Time `gorm:"index"`

	InjectName     string
	InjectMAC      string
	InjectDriver   string
	InjectChannel  int
	CaptureName    string
	CaptureMAC     string
	CaptureDriver  string
	CaptureChannel int
	Peer           string

	// Nearby access point, empty BSSID when none was found
	APBSSID   string
	APSSID    string
	APSignal  int
	APChannel int
	APCipher  string

	Stats string // JSON encoded domain.ChannelStats

	Verdicts []VerdictModel `gorm:"foreignKey:ReportID;constraint:OnDelete:CASCADE"`
	IVReuses []IVReuseModel `gorm:"foreignKey:ReportID"`
}

// VerdictModel stores one probe verdict of a report.
type VerdictModel struct {
	ID        uint   `gorm:"primaryKey"`
	ReportID  string `gorm:"index"`
	Position  int
	Probe     string `gorm:"index"`
	Variant   string
	Verdict   string
	Rationale string
	Checks    string // JSON encoded []domain.CheckResult
	Injected  int
	Captured  int
	Duration  int64
}

// IVReuseModel stores one IV reuse detection.
type IVReuseModel struct {
	ID          uint   `gorm:"primaryKey"`
	ReportID    string `gorm:"index"`
	IV          int64
	Transmitter string `gorm:"index"`
	Receiver    string
	PreviousSeq int
	Seq         int
	FirstSeen   time.Time
	SeenAt      time.Time `gorm:"index"`
	Channel     int
	Cipher      string
	Approximate bool
}

// NewSQLiteAdapter initializes the database and migrates schema.
func NewSQLiteAdapter(path string) (*SQLiteAdapter, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, fmt.Errorf("enable tracing: %w", err)
	}

	// SQLite serializes writers anyway; one connection also keeps
	// ":memory:" databases from splitting across the pool.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	// Auto Migrate
	if err := db.AutoMigrate(&ReportModel{}, &VerdictModel{}, &IVReuseModel{}); err != nil {
		return nil, err
	}
	return &SQLiteAdapter{db: db}, nil
}

// SaveReport inserts or replaces a report with its verdicts and IV reuses.
// Reports without an ID get a fresh one.
func (a *SQLiteAdapter) SaveReport(ctx context.Context, report *domain.Report) error {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	model, err := toModel(report)
	if err != nil {
		return err
	}

	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("report_id = ?", model.ID).Delete(&VerdictModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("report_id = ?", model.ID).Delete(&IVReuseModel{}).Error; err != nil {
			return err
		}
		if err := tx.Omit(clause.Associations).Save(&model).Error; err != nil {
			return err
		}
		if len(model.Verdicts) > 0 {
			if err := tx.Create(&model.Verdicts).Error; err != nil {
				return err
			}
		}
		if len(model.IVReuses) > 0 {
			if err := tx.Create(&model.IVReuses).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetReport retrieves a report by ID.
func (a *SQLiteAdapter) GetReport(ctx context.Context, id string) (*domain.Report, error) {
	var model ReportModel
	err := a.preload(a.db.WithContext(ctx)).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrReportNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return toDomain(model)
}

// ListReports returns the most recent reports first. limit <= 0 returns all.
func (a *SQLiteAdapter) ListReports(ctx context.Context, limit int) ([]domain.Report, error) {
	query := a.preload(a.db.WithContext(ctx)).Order("started_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var models []ReportModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	reports := make([]domain.Report, 0, len(models))
	for _, m := range models {
		r, err := toDomain(m)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *r)
	}
	return reports, nil
}

// SaveIVReuse stores a detection made outside an injection run.
func (a *SQLiteAdapter) SaveIVReuse(ctx context.Context, event domain.IVReuseEvent) error {
	model := toIVReuseModel("", event)
	return a.db.WithContext(ctx).Create(&model).Error
}

// ListIVReuses returns detections seen at or after since, oldest first.
func (a *SQLiteAdapter) ListIVReuses(ctx context.Context, since time.Time) ([]domain.IVReuseEvent, error) {
	var models []IVReuseModel
	if err := a.db.WithContext(ctx).Where("seen_at >= ?", since).Order("seen_at").Find(&models).Error; err != nil {
		return nil, err
	}
	events := make([]domain.IVReuseEvent, len(models))
	for i, m := range models {
		events[i] = toIVReuseEvent(m)
	}
	return events, nil
}

func (a *SQLiteAdapter) preload(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Verdicts", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload("IVReuses", func(db *gorm.DB) *gorm.DB { return db.Order("seen_at") })
}

func (a *SQLiteAdapter) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ensure interface compliance
var _ ports.ReportStore = (*SQLiteAdapter)(nil)
