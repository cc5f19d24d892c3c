package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"warungpos/backend/internal/domain"
	"warungpos/backend/internal/store"
)

const (
	dateLayout      = "2006-01-02"
	dailyTopLimit   = 5
	defaultTopLimit = 10
)

// DayRange returns the bounds of the calendar day date in the report time
// zone, as [start, end).
func (s *Service) DayRange(date string) (time.Time, time.Time, error) {
	day, err := time.ParseInLocation(dateLayout, date, s.location)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: date %q is not YYYY-MM-DD", store.ErrInvalidTransaction, date)
	}
	return day, day.AddDate(0, 0, 1), nil
}

// Today is the current calendar date in the report time zone.
func (s *Service) Today() string {
	return s.now().In(s.location).Format(dateLayout)
}

func (s *Service) DailyReport(ctx context.Context, date string) (domain.DailyReport, error) {
	start, end, err := s.DayRange(date)
	if err != nil {
		return domain.DailyReport{}, err
	}
	txs, err := s.ListTransactions(ctx, start, end)
	if err != nil {
		return domain.DailyReport{}, err
	}

	report := domain.DailyReport{Date: date, Transactions: len(txs)}
	for _, tx := range txs {
		report.Subtotal += tx.Subtotal
		report.Discount += tx.Discount
		report.Total += tx.Total
		report.CashReceived += tx.CashReceived
		switch tx.Type {
		case domain.TxWholesale:
			report.WholesaleCount++
			report.WholesaleTotal += tx.Total
		default:
			report.RetailCount++
			report.RetailTotal += tx.Total
		}
		for _, item := range tx.Items {
			report.ItemsSold += item.Qty
		}
	}
	report.TopProducts = rankProducts(txs, dailyTopLimit)
	return report, nil
}

// TopProducts ranks products sold in [from, to) by quantity, then revenue.
func (s *Service) TopProducts(ctx context.Context, from, to time.Time, limit int) ([]domain.TopProduct, error) {
	if limit <= 0 {
		limit = defaultTopLimit
	}
	txs, err := s.ListTransactions(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return rankProducts(txs, limit), nil
}

func rankProducts(txs []domain.Transaction, limit int) []domain.TopProduct {
	byID := map[int64]*domain.TopProduct{}
	for _, tx := range txs {
		for _, item := range tx.Items {
			top, ok := byID[item.ProductID]
			if !ok {
				top = &domain.TopProduct{ProductID: item.ProductID, Code: item.Code, Name: item.Name}
				byID[item.ProductID] = top
			}
			top.Qty += item.Qty
			top.Revenue += item.LineTotal
		}
	}

	ranked := make([]domain.TopProduct, 0, len(byID))
	for _, top := range byID {
		ranked = append(ranked, *top)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Qty != ranked[j].Qty {
			return ranked[i].Qty > ranked[j].Qty
		}
		if ranked[i].Revenue != ranked[j].Revenue {
			return ranked[i].Revenue > ranked[j].Revenue
		}
		return ranked[i].ProductID < ranked[j].ProductID
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// WriteDailyReportCSV writes the daily report of date as metric,value rows
// followed by the top products.
func (s *Service) WriteDailyReportCSV(ctx context.Context, w io.Writer, date string) error {
	report, err := s.DailyReport(ctx, date)
	if err != nil {
		return err
	}

	average := decimal.Zero
	if report.Transactions > 0 {
		average = decimal.NewFromInt(report.Total).Div(decimal.NewFromInt(int64(report.Transactions)))
	}

	cw := csv.NewWriter(w)
	rows := [][]string{
		{"metric", "value"},
		{"date", report.Date},
		{"transactions", strconv.Itoa(report.Transactions)},
		{"retail_transactions", strconv.Itoa(report.RetailCount)},
		{"wholesale_transactions", strconv.Itoa(report.WholesaleCount)},
		{"subtotal", strconv.FormatInt(report.Subtotal, 10)},
		{"discount", strconv.FormatInt(report.Discount, 10)},
		{"total", strconv.FormatInt(report.Total, 10)},
		{"retail_total", strconv.FormatInt(report.RetailTotal, 10)},
		{"wholesale_total", strconv.FormatInt(report.WholesaleTotal, 10)},
		{"cash_received", strconv.FormatInt(report.CashReceived, 10)},
		{"items_sold", strconv.FormatInt(report.ItemsSold, 10)},
		{"average_ticket", average.StringFixed(2)},
		{},
		{"rank", "code", "name", "qty", "revenue"},
	}
	for i, top := range report.TopProducts {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			top.Code,
			top.Name,
			strconv.FormatInt(top.Qty, 10),
			strconv.FormatInt(top.Revenue, 10),
		})
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write daily report csv: %w", err)
	}
	return nil
}
