package reports

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pariz/gountries"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"visitlens/internal/analytics"
	"visitlens/internal/events"
	"visitlens/internal/funnels"
	"visitlens/internal/pkg/geoip"
	"visitlens/internal/timeframe"
	"visitlens/internal/visits"
)

// Dataset is a materialized, tabular report.
type Dataset struct {
	Name    string
	Columns []string
	Rows    [][]string
}

// Query selects what a dataset covers.
type Query struct {
	Type     string
	Range    timeframe.Range
	FunnelID uint
}

// Len is the number of data rows.
func (d *Dataset) Len() int { return len(d.Rows) }

// Build runs the data query for the report type.
func Build(db *gorm.DB, q Query) (*Dataset, error) {
	var (
		ds  *Dataset
		err error
	)
	switch q.Type {
	case TypeSummary:
		ds, err = buildSummary(db, q.Range)
	case TypeDetailed:
		ds, err = buildDetailed(db, q.Range)
	case TypeGeo:
		ds, err = buildGeo(db, q.Range)
	case TypeFunnel:
		ds, err = buildFunnel(db, q.Range, q.FunnelID)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, q.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("build %s dataset: %w", q.Type, err)
	}
	ds.Name = fmt.Sprintf("visitlens-%s-%s-to-%s", q.Type, q.Range.StartDate(), q.Range.EndDate())
	return ds, nil
}

var summaryMetrics = []analytics.Metric{
	analytics.MetricUniqueVisitors,
	analytics.MetricSessions,
	analytics.MetricPageViews,
	analytics.MetricConversions,
	analytics.MetricClicks,
}

func buildSummary(db *gorm.DB, r timeframe.Range) (*Dataset, error) {
	ds := &Dataset{Columns: []string{"date"}}
	for _, m := range summaryMetrics {
		ds.Columns = append(ds.Columns, string(m))
	}

	for day := r.Start; !day.After(r.End); day = day.AddDate(0, 0, 1) {
		row := []string{timeframe.DateString(day)}
		for _, m := range summaryMetrics {
			n, err := analytics.MetricValue(db, m, timeframe.SingleDay(day), "")
			if err != nil {
				return nil, err
			}
			row = append(row, strconv.FormatInt(n, 10))
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}

func buildDetailed(db *gorm.DB, r timeframe.Range) (*Dataset, error) {
	var rows []events.Event
	err := db.Where("created_at >= ? AND created_at < ?", r.From(), r.Until()).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	ds := &Dataset{Columns: []string{
		"created_at", "event_type", "page_path", "session_id", "device", "browser",
		"country", "referrer_category", "utm_source", "utm_medium", "utm_campaign",
	}}
	for _, e := range rows {
		ds.Rows = append(ds.Rows, []string{
			e.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			e.EventType, e.PagePath, e.SessionID, e.Device, e.Browser,
			e.Country, e.ReferrerCategory, e.UTMSource, e.UTMMedium, e.UTMCampaign,
		})
	}
	return ds, nil
}

type countryCount struct {
	Country  string
	Visitors int64
}

// countryExpr folds blank countries into the unknown bucket. It is shared by
// SELECT and GROUP BY because the alias shadows the physical column.
const countryExpr = "COALESCE(NULLIF(country, ''), '" + geoip.UnknownCountry + "')"

func buildGeo(db *gorm.DB, r timeframe.Range) (*Dataset, error) {
	var results []countryCount
	err := db.Model(&visits.UniqueVisit{}).
		Select(countryExpr+" AS country, COUNT(DISTINCT identity_hash) AS visitors").
		Where("visit_date >= ? AND visit_date <= ?", r.StartDate(), r.EndDate()).
		Group(countryExpr).
		Order("visitors DESC, country ASC").
		Scan(&results).Error
	if err != nil {
		return nil, err
	}

	caser := cases.Upper(language.AmericanEnglish)
	countries := gountries.New()

	ds := &Dataset{Columns: []string{"country_code", "country_name", "visitors"}}
	for _, item := range results {
		name := caser.String(item.Country)
		if item.Country != geoip.UnknownCountry {
			if country, err := countries.FindCountryByAlpha(strings.ToUpper(item.Country)); err == nil {
				name = country.Name.Common
			}
		}
		ds.Rows = append(ds.Rows, []string{item.Country, name, strconv.FormatInt(item.Visitors, 10)})
	}
	return ds, nil
}

func buildFunnel(db *gorm.DB, r timeframe.Range, funnelID uint) (*Dataset, error) {
	results, err := funnels.ResultsInRange(db, funnelID, r)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{Columns: []string{
		"date", "funnel_id", "step", "path_pattern", "sessions", "drop_off", "total_sessions", "conversion_rate",
	}}
	for _, res := range results {
		for _, step := range res.StepResults {
			ds.Rows = append(ds.Rows, []string{
				res.ResultDate,
				strconv.FormatUint(uint64(res.FunnelID), 10),
				step.Name,
				step.Pattern,
				strconv.Itoa(step.Count),
				strconv.Itoa(step.DropOff),
				strconv.Itoa(res.TotalSessions),
				strconv.FormatFloat(res.ConversionRate, 'f', 2, 64),
			})
		}
	}
	return ds, nil
}

// CSV renders the dataset with a header row.
func (d *Dataset) CSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(d.Columns); err != nil {
		return nil, err
	}
	if err := w.WriteAll(d.Rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Records returns rows as column-keyed maps.
func (d *Dataset) Records() []map[string]string {
	out := make([]map[string]string, 0, len(d.Rows))
	for _, row := range d.Rows {
		rec := make(map[string]string, len(d.Columns))
		for i, col := range d.Columns {
			if i < len(row) {
				rec[col] = row[i]
			}
		}
		out = append(out, rec)
	}
	return out
}

// JSON renders the dataset as an array of objects.
func (d *Dataset) JSON() ([]byte, error) {
	return json.Marshal(d.Records())
}

// Encode renders the dataset in the given format.
func (d *Dataset) Encode(format string) ([]byte, string, error) {
	switch format {
	case FormatCSV, "":
		b, err := d.CSV()
		return b, "text/csv", err
	case FormatJSON:
		b, err := d.JSON()
		return b, "application/json", err
	default:
		return nil, "", fmt.Errorf("unknown format %q", format)
	}
}
