// Package trend derives short-term, long-term, and clinical trend labels
// from a patient's persisted result history.
package trend

import (
	"sort"
	"strings"

	"github.com/labinsight/platform/internal/report"
)

// clinicalDirection records, per test code, whether a rising value is the
// favorable movement. Used only when no reference range is available.
var clinicalDirection = map[string]string{
	"HGB": "up_good",
	"TSH": "down_good",
}

// ComputeTrends builds a per-code trend record from history rows, comparing
// the row dated currentDate against the most recent strictly earlier row.
// Codes without a row at currentDate are omitted; codes with no earlier row
// map to nil.
func ComputeTrends(rows []report.HistoryRow, currentDate report.Date) map[string]*report.TrendRecord {
	byCode := make(map[string][]report.HistoryRow)
	for _, r := range rows {
		code := strings.ToUpper(strings.TrimSpace(r.Code))
		if code == "" {
			continue
		}
		byCode[code] = append(byCode[code], r)
	}

	trends := make(map[string]*report.TrendRecord)

	for code, items := range byCode {
		sort.SliceStable(items, func(i, j int) bool {
			return items[j].ReportDate.Before(items[i].ReportDate)
		})

		var current *report.HistoryRow
		for i := range items {
			if items[i].ReportDate.Equal(currentDate) {
				current = &items[i]
				break
			}
		}
		if current == nil {
			continue
		}

		var prev *report.HistoryRow
		for i := range items {
			if items[i].ReportDate.Before(currentDate) {
				prev = &items[i]
				break
			}
		}
		if prev == nil {
			trends[code] = nil
			continue
		}

		direction := report.DirectionStable
		if current.Value != nil && prev.Value != nil {
			switch {
			case *current.Value > *prev.Value:
				direction = report.DirectionUp
			case *current.Value < *prev.Value:
				direction = report.DirectionDown
			}
		}

		name := current.Name
		if name == "" {
			name = code
		}

		trends[code] = &report.TrendRecord{
			Code:            code,
			Name:            name,
			PrevValue:       prev.Value,
			PrevUnit:        prev.Unit,
			PrevDate:        prev.ReportDate,
			LastValue:       current.Value,
			LastUnit:        current.Unit,
			LastDate:        current.ReportDate,
			Direction:       direction,
			NormalRangeLow:  current.NormalRangeLow,
			NormalRangeHigh: current.NormalRangeHigh,
		}
	}

	return trends
}

// SeriesByCode groups history rows into per-code series ordered oldest to
// newest, dropping rows without a numeric value.
func SeriesByCode(rows []report.HistoryRow) map[string][]report.SeriesPoint {
	sorted := make([]report.HistoryRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ReportDate.Before(sorted[j].ReportDate)
	})

	series := make(map[string][]report.SeriesPoint)
	for _, r := range sorted {
		code := strings.ToUpper(strings.TrimSpace(r.Code))
		if code == "" || r.Value == nil {
			continue
		}
		name := r.Name
		if name == "" {
			name = code
		}
		series[code] = append(series[code], report.SeriesPoint{
			Date:  r.ReportDate,
			Value: *r.Value,
			Unit:  r.Unit,
			Name:  name,
		})
	}
	return series
}

// ComputeLongTrend summarizes direction over a series of points ordered
// oldest to newest. Returns nil when fewer than minPoints values exist.
// Movement within epsilon of zero counts as stable.
func ComputeLongTrend(points []report.SeriesPoint, minPoints int, epsilon float64) *report.LongTrend {
	if len(points) < minPoints {
		return nil
	}

	first, last := points[0], points[len(points)-1]
	net := last.Value - first.Value

	direction := report.DirectionStable
	switch {
	case net > epsilon:
		direction = report.DirectionUp
	case net < -epsilon:
		direction = report.DirectionDown
	}

	return &report.LongTrend{
		Direction:  direction,
		NetChange:  net,
		FromDate:   first.Date,
		ToDate:     last.Date,
		PointsUsed: len(points),
	}
}

// ClinicalLabel classifies the movement between two values of a test.
// With a reference range it compares out-of-range distance at each point;
// without one it falls back to the per-code favorable direction, then to
// treating any rise as improvement.
func ClinicalLabel(code string, prev, curr, normalLow, normalHigh *float64) report.ClinicalTrend {
	if prev == nil || curr == nil {
		return report.TrendUnknown
	}

	if normalLow != nil && normalHigh != nil {
		dist := func(v float64) float64 {
			if v < *normalLow {
				return *normalLow - v
			}
			if v > *normalHigh {
				return v - *normalHigh
			}
			return 0
		}

		currDist := dist(*curr)
		prevDist := dist(*prev)

		if currDist == 0 && prevDist == 0 {
			return report.TrendStable
		}
		switch {
		case currDist < prevDist:
			return report.TrendImproving
		case currDist > prevDist:
			return report.TrendWorsening
		default:
			return report.TrendStable
		}
	}

	if *curr == *prev {
		return report.TrendStable
	}

	rule, ok := clinicalDirection[strings.ToUpper(code)]
	if !ok {
		if *curr > *prev {
			return report.TrendImproving
		}
		return report.TrendWorsening
	}

	switch rule {
	case "up_good":
		if *curr > *prev {
			return report.TrendImproving
		}
		return report.TrendWorsening
	case "down_good":
		if *curr < *prev {
			return report.TrendImproving
		}
		return report.TrendWorsening
	}

	return report.TrendUnknown
}
