// Package alerts evaluates metric alert rules and keeps an audit trail of
// every trigger.
package alerts

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"gorm.io/gorm"

	"visitlens/internal/analytics"
	"visitlens/internal/notify"
	"visitlens/internal/timeframe"
)

// Condition is how a metric is compared to the threshold.
type Condition string

const (
	ConditionGreaterThan   Condition = "greater_than"
	ConditionLessThan      Condition = "less_than"
	ConditionEquals        Condition = "equals"
	ConditionChangePercent Condition = "change_percent"
)

var ErrUnknownCondition = errors.New("unknown alert condition")

// AlertConfig is a stored alert rule.
type AlertConfig struct {
	ID                   uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	Name                 string     `gorm:"not null" json:"name"`
	Metric               string     `gorm:"size:32;not null" json:"metric"`
	Condition            string     `gorm:"size:32;not null" json:"condition"`
	Threshold            float64    `gorm:"not null" json:"threshold"`
	ComparisonPeriod     string     `gorm:"size:32;not null;default:previous_day" json:"comparison_period"`
	PageFilter           string     `json:"page_filter,omitempty"`
	NotificationChannels []string   `gorm:"serializer:json;type:text" json:"notification_channels"`
	Recipients           []string   `gorm:"serializer:json;type:text" json:"recipients"`
	IsActive             bool       `gorm:"not null;default:true" json:"is_active"`
	LastTriggeredAt      *time.Time `json:"last_triggered_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// AlertLog is the append-only record of one trigger.
type AlertLog struct {
	ID                 uint              `gorm:"primaryKey;autoIncrement" json:"id"`
	AlertConfigID      uint              `gorm:"index;not null" json:"alert_config_id"`
	TriggeredAt        time.Time         `gorm:"index;not null" json:"triggered_at"`
	MetricValue        float64           `json:"metric_value"`
	ThresholdValue     float64           `json:"threshold_value"`
	ComparisonValue    float64           `json:"comparison_value"`
	ChangePercent      *float64          `json:"change_percent,omitempty"`
	NotificationStatus map[string]string `gorm:"serializer:json;type:text" json:"notification_status"`
	Message            string            `gorm:"type:text" json:"message"`
	AcknowledgedAt     *time.Time        `json:"acknowledged_at,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
}

// Validate checks the rule before it is stored.
func (c *AlertConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("alert name is required")
	}
	if !analytics.ValidMetric(analytics.Metric(c.Metric)) {
		return fmt.Errorf("unsupported metric %q", c.Metric)
	}
	switch Condition(c.Condition) {
	case ConditionGreaterThan, ConditionLessThan, ConditionEquals, ConditionChangePercent:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCondition, c.Condition)
	}
	if c.ComparisonPeriod == "" {
		c.ComparisonPeriod = string(timeframe.PreviousDay)
	}
	if _, err := timeframe.SingleDay(time.Now()).Shift(timeframe.ComparisonPeriod(c.ComparisonPeriod)); err != nil {
		return err
	}
	if len(c.NotificationChannels) == 0 {
		c.NotificationChannels = []string{notify.ChannelLog}
	}
	return nil
}

// Check evaluates a condition. For change_percent it also returns the
// computed change; a zero baseline has no defined change and never triggers.
// change_percent fires when the absolute change reaches the threshold, so a
// move of exactly the threshold counts. greater_than and less_than are strict.
func Check(cond Condition, current, comparison, threshold float64) (bool, *float64, error) {
	switch cond {
	case ConditionGreaterThan:
		return current > threshold, nil, nil
	case ConditionLessThan:
		return current < threshold, nil, nil
	case ConditionEquals:
		return current == threshold, nil, nil
	case ConditionChangePercent:
		if comparison == 0 {
			return false, nil, nil
		}
		change := (current - comparison) / comparison * 100
		return math.Abs(change) >= threshold, &change, nil
	default:
		return false, nil, fmt.Errorf("%w: %q", ErrUnknownCondition, cond)
	}
}

// CreateConfig validates and stores a rule.
func CreateConfig(db *gorm.DB, c *AlertConfig) error {
	if err := c.Validate(); err != nil {
		return err
	}
	c.IsActive = true
	if err := db.Create(c).Error; err != nil {
		return fmt.Errorf("create alert: %w", err)
	}
	return nil
}

// ListConfigs returns every rule.
func ListConfigs(db *gorm.DB) ([]AlertConfig, error) {
	var out []AlertConfig
	err := db.Order("id ASC").Find(&out).Error
	return out, err
}

// RecentLogs returns the newest logs first.
func RecentLogs(db *gorm.DB, limit int) ([]AlertLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []AlertLog
	err := db.Order("triggered_at DESC, id DESC").Limit(limit).Find(&out).Error
	return out, err
}

// Acknowledge stamps a log as seen. Acknowledging twice keeps the first time.
func Acknowledge(db *gorm.DB, id uint, at time.Time) (*AlertLog, error) {
	var log AlertLog
	if err := db.First(&log, id).Error; err != nil {
		return nil, err
	}
	if log.AcknowledgedAt != nil {
		return &log, nil
	}
	ts := at.UTC()
	if err := db.Model(&log).Update("acknowledged_at", ts).Error; err != nil {
		return nil, fmt.Errorf("acknowledge alert log %d: %w", id, err)
	}
	log.AcknowledgedAt = &ts
	return &log, nil
}
