// Package reports materializes analytics datasets on a schedule or on demand
// and hands them to a delivery method.
package reports

import (
	"errors"
	"time"
)

// Report types
const (
	TypeSummary  = "summary"
	TypeDetailed = "detailed"
	TypeGeo      = "geo"
	TypeFunnel   = "funnel"
)

// Schedules
const (
	ScheduleDaily   = "daily"
	ScheduleWeekly  = "weekly"
	ScheduleMonthly = "monthly"
)

// Delivery methods
const (
	DeliveryEmail     = "email"
	DeliveryStorage   = "storage"
	DeliveryWarehouse = "warehouse"
)

// Formats
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// Report and history statuses
const (
	StatusIdle      = "idle"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusPending   = "pending"
)

// History triggers
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

var (
	ErrReportRunning   = errors.New("report is already running or no longer due")
	ErrUnknownType     = errors.New("unknown report type")
	ErrUnknownDelivery = errors.New("unknown delivery method")
)

// ScheduledReport is a report definition with its next due time.
type ScheduledReport struct {
	ID             uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	Name           string     `gorm:"not null" json:"name"`
	ReportType     string     `gorm:"size:16;not null" json:"report_type"`
	Schedule       string     `gorm:"size:16;not null" json:"schedule"`
	TimeOfDay      string     `gorm:"size:5;not null;default:08:00" json:"time_of_day"`
	DayOfWeek      *int       `json:"day_of_week,omitempty"`
	DayOfMonth     *int       `json:"day_of_month,omitempty"`
	DateRange      string     `gorm:"size:16;not null;default:last_7_days" json:"date_range"`
	Format         string     `gorm:"size:8;not null;default:csv" json:"format"`
	DeliveryMethod string     `gorm:"size:16;not null" json:"delivery_method"`
	Recipients     []string   `gorm:"serializer:json;type:text" json:"recipients"`
	FunnelID       *uint      `json:"funnel_id,omitempty"`
	IsActive       bool       `gorm:"not null;default:true" json:"is_active"`
	Status         string     `gorm:"size:16;not null;default:idle" json:"status"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time `gorm:"index" json:"next_run_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ReportHistory is one execution of a report.
type ReportHistory struct {
	ID                uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	ScheduledReportID uint       `gorm:"index;not null" json:"scheduled_report_id"`
	Trigger           string     `gorm:"size:16;not null" json:"trigger"`
	Status            string     `gorm:"size:16;not null" json:"status"`
	RecordsCount      int        `json:"records_count"`
	FileURL           string     `json:"file_url,omitempty"`
	FileSize          int64      `json:"file_size,omitempty"`
	DurationMs        int64      `json:"duration_ms"`
	ErrorMessage      string     `gorm:"type:text" json:"error_message,omitempty"`
	StartedAt         time.Time  `gorm:"not null" json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// WarehouseExport tracks a push of a dataset to the external warehouse.
type WarehouseExport struct {
	ID           uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	ExportType   string     `gorm:"size:16;not null" json:"export_type"`
	StartDate    string     `gorm:"size:10;not null" json:"start_date"`
	EndDate      string     `gorm:"size:10;not null" json:"end_date"`
	FunnelID     uint       `json:"funnel_id,omitempty"`
	Status       string     `gorm:"index;size:16;not null" json:"status"`
	RowsExported int        `json:"rows_exported"`
	ErrorMessage string     `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// ValidType reports whether t names a report type.
func ValidType(t string) bool {
	switch t {
	case TypeSummary, TypeDetailed, TypeGeo, TypeFunnel:
		return true
	}
	return false
}
