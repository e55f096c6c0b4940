package reports

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"visitlens/internal/timeframe"
)

// CronSpec converts the report's schedule fields to a standard cron line.
func CronSpec(r *ScheduledReport) (string, error) {
	hour, minute, err := parseTimeOfDay(r.TimeOfDay)
	if err != nil {
		return "", err
	}

	switch r.Schedule {
	case ScheduleDaily:
		return fmt.Sprintf("%d %d * * *", minute, hour), nil
	case ScheduleWeekly:
		if r.DayOfWeek == nil || *r.DayOfWeek < 0 || *r.DayOfWeek > 6 {
			return "", fmt.Errorf("weekly schedule needs day_of_week 0-6")
		}
		return fmt.Sprintf("%d %d * * %d", minute, hour, *r.DayOfWeek), nil
	case ScheduleMonthly:
		if r.DayOfMonth == nil || *r.DayOfMonth < 1 || *r.DayOfMonth > 31 {
			return "", fmt.Errorf("monthly schedule needs day_of_month 1-31")
		}
		return fmt.Sprintf("%d %d %d * *", minute, hour, *r.DayOfMonth), nil
	default:
		return "", fmt.Errorf("unknown schedule %q", r.Schedule)
	}
}

// NextRun returns the first scheduled instant strictly after now, evaluated
// in loc. Months without the configured day are skipped.
func NextRun(r *ScheduledReport, now time.Time, loc *time.Location) (time.Time, error) {
	spec, err := CronSpec(r)
	if err != nil {
		return time.Time{}, err
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	next := sched.Next(now.In(loc))
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("schedule %q never fires", spec)
	}
	return next.UTC(), nil
}

// Validate checks the definition and fills defaults.
func (r *ScheduledReport) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("report name is required")
	}
	if !ValidType(r.ReportType) {
		return fmt.Errorf("%w: %q", ErrUnknownType, r.ReportType)
	}
	switch r.DeliveryMethod {
	case DeliveryEmail, DeliveryStorage, DeliveryWarehouse:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDelivery, r.DeliveryMethod)
	}
	if r.DeliveryMethod == DeliveryEmail && len(r.Recipients) == 0 {
		return fmt.Errorf("email delivery needs at least one recipient")
	}
	if r.ReportType == TypeFunnel && r.FunnelID == nil {
		return fmt.Errorf("funnel reports need a funnel_id")
	}
	if r.TimeOfDay == "" {
		r.TimeOfDay = "08:00"
	}
	if r.DateRange == "" {
		r.DateRange = string(timeframe.RangeLabelLast7Days)
	}
	if _, err := timeframe.Named(timeframe.RangeLabel(r.DateRange), time.Now()); err != nil {
		return err
	}
	if r.Format == "" {
		r.Format = FormatCSV
	}
	if r.Format != FormatCSV && r.Format != FormatJSON {
		return fmt.Errorf("unknown format %q", r.Format)
	}
	_, err := CronSpec(r)
	return err
}

func parseTimeOfDay(v string) (hour, minute int, err error) {
	parts := strings.Split(v, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("time_of_day %q must be HH:MM", v)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("time_of_day %q has an invalid hour", v)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time_of_day %q has an invalid minute", v)
	}
	return hour, minute, nil
}
