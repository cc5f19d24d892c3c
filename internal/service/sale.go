package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"warungpos/backend/internal/codec"
	"warungpos/backend/internal/domain"
	"warungpos/backend/internal/schema"
	"warungpos/backend/internal/store"
	"warungpos/backend/internal/xid"
)

const (
	maxReceiptAttempts = 20
	maxSaleAttempts    = 3
)

// CreateSale records a cash sale. Stock checks, stock decrements, the
// customer counter and the transaction insert happen in one atomic scope;
// any failure leaves every collection as it was.
func (s *Service) CreateSale(ctx context.Context, sess domain.Session, req domain.SaleRequest) (*domain.Transaction, error) {
	started := time.Now()
	tx, err := s.createSale(ctx, sess, req)
	if err != nil {
		s.metrics.SaleFailures.WithLabelValues(failureReason(err)).Inc()
		s.observeBusy(err)
		s.logger.Infow("sale rejected", "type", req.Type, "cashier", sess.Username, "error", err)
		return nil, err
	}
	s.metrics.SaleDuration.Observe(time.Since(started).Seconds())
	s.metrics.SalesTotal.WithLabelValues(string(tx.Type)).Inc()
	s.metrics.SalesRevenue.WithLabelValues(string(tx.Type)).Add(float64(tx.Total))
	s.logger.Infow("sale completed",
		"transaction_id", tx.ID,
		"receipt_no", tx.ReceiptNo,
		"type", tx.Type,
		"total", tx.Total,
		"cashier", sess.Username,
	)
	return tx, nil
}

func (s *Service) createSale(ctx context.Context, sess domain.Session, req domain.SaleRequest) (*domain.Transaction, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	if req.PaymentType == "" {
		req.PaymentType = domain.PaymentCash
	}
	if req.PaymentType != domain.PaymentCash {
		return nil, fmt.Errorf("%w: payment type %q is not supported", store.ErrInvalidTransaction, req.PaymentType)
	}
	lines, err := mergeLines(req.Items)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	release, err := s.lockProducts(ids)
	if err != nil {
		return nil, err
	}
	defer release()

	var result domain.Transaction
	for attempt := 1; ; attempt++ {
		result, err = s.commitSale(ctx, sess, req, lines)
		if err == nil || attempt == maxSaleAttempts || !retryableSale(err) {
			break
		}
		s.logger.Debugw("retrying sale", "attempt", attempt, "error", err)
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// retryableSale reports whether a failed commit may succeed when run again.
// The only unique field a sale writes is the receipt number, so a constraint
// violation means a concurrent sale took the same one.
func retryableSale(err error) bool {
	return errors.Is(err, store.ErrConstraintViolation) || errors.Is(err, store.ErrWriteConflict)
}

// commitSale prices lines and writes the sale in one atomic scope.
func (s *Service) commitSale(ctx context.Context, sess domain.Session, req domain.SaleRequest, lines []domain.SaleLine) (domain.Transaction, error) {
	var result domain.Transaction
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		now := s.now()
		sale := domain.Transaction{
			Type:         req.Type,
			Date:         now.UTC(),
			Discount:     req.Discount,
			PaymentType:  req.PaymentType,
			CashReceived: req.CashReceived,
			Cashier:      sess.Username,
			Items:        make([]domain.TransactionItem, 0, len(lines)),
		}

		remaining := make(map[int64]int64, len(lines))
		for _, line := range lines {
			item, stock, err := priceLine(ctx, tx, req.Type, line)
			if err != nil {
				return err
			}
			remaining[line.ProductID] = stock - line.Qty
			sale.Items = append(sale.Items, item)
			if sale.Subtotal, err = addAmount(sale.Subtotal, item.LineTotal); err != nil {
				return err
			}
		}

		if sale.Discount > sale.Subtotal {
			return fmt.Errorf("%w: discount %d exceeds subtotal %d", store.ErrInvalidTransaction, sale.Discount, sale.Subtotal)
		}
		sale.Total = sale.Subtotal - sale.Discount
		if sale.CashReceived < sale.Total {
			return fmt.Errorf("%w: received %d, due %d", store.ErrInsufficientPayment, sale.CashReceived, sale.Total)
		}
		sale.ChangeDue = sale.CashReceived - sale.Total

		if req.CustomerID != nil {
			snap, err := attachCustomer(ctx, tx, *req.CustomerID, now)
			if err != nil {
				return err
			}
			id := *req.CustomerID
			sale.CustomerID = &id
			sale.CustomerSnapshot = snap
		}

		stamp := now.UTC().Format(timeLayout)
		for _, line := range lines {
			patch := schema.Record{"stockQty": remaining[line.ProductID], "updatedAt": stamp}
			if _, err := tx.Update(ctx, schema.Products, line.ProductID, patch); err != nil {
				return err
			}
		}

		receipt, err := nextReceiptNo(ctx, tx, now)
		if err != nil {
			return err
		}
		sale.ReceiptNo = receipt

		key, err := tx.Insert(ctx, schema.Transactions, codec.TransactionToRecord(sale))
		if err != nil {
			return err
		}
		sale.ID, err = store.IntKey(key)
		if err != nil {
			return err
		}
		result = sale
		return nil
	})
	return result, err
}

// mergeLines folds repeated products into one line, keeping the position of
// the first occurrence.
func mergeLines(in []domain.SaleLine) ([]domain.SaleLine, error) {
	out := make([]domain.SaleLine, 0, len(in))
	pos := make(map[int64]int, len(in))
	for _, line := range in {
		if i, ok := pos[line.ProductID]; ok {
			qty, err := addAmount(out[i].Qty, line.Qty)
			if err != nil {
				return nil, err
			}
			out[i].Qty = qty
			continue
		}
		pos[line.ProductID] = len(out)
		out = append(out, line)
	}
	return out, nil
}

// priceLine loads the product of line and prices it for saleType. It also
// returns the stock on hand before the sale.
func priceLine(ctx context.Context, tx store.Tx, saleType domain.TxType, line domain.SaleLine) (domain.TransactionItem, int64, error) {
	rec, err := tx.Get(ctx, schema.Products, line.ProductID)
	if err != nil {
		return domain.TransactionItem{}, 0, fmt.Errorf("product %d: %w", line.ProductID, err)
	}
	product := codec.ProductFromRecord(rec)
	if product.Archived {
		return domain.TransactionItem{}, 0, fmt.Errorf("%w: product %s is archived", store.ErrInvalidTransaction, product.Code)
	}
	if product.StockQty < line.Qty {
		return domain.TransactionItem{}, 0, fmt.Errorf("%w: %s has %d, requested %d",
			store.ErrInsufficientStock, product.Code, product.StockQty, line.Qty)
	}

	item := domain.TransactionItem{
		ProductID: product.ID,
		Code:      product.Code,
		Name:      product.Name,
		Qty:       line.Qty,
	}
	if saleType == domain.TxWholesale && product.WholesalePrice != nil {
		item.UnitPrice = *product.WholesalePrice
	} else {
		// Retail is required only when it is the price actually charged.
		retail, ok := codec.Price(rec, "retailPrice")
		if !ok {
			return domain.TransactionItem{}, 0, fmt.Errorf("%w: product %s has no valid retail price", store.ErrInvalidTransaction, product.Code)
		}
		item.UnitPrice = retail
		if saleType == domain.TxWholesale {
			item.Note = domain.NoteFallbackRetail
		}
	}
	item.LineTotal, err = mulAmount(item.UnitPrice, item.Qty)
	if err != nil {
		return domain.TransactionItem{}, 0, fmt.Errorf("product %s: %w", product.Code, err)
	}
	return item, product.StockQty, nil
}

func attachCustomer(ctx context.Context, tx store.Tx, id int64, now time.Time) (*domain.CustomerSnapshot, error) {
	rec, err := tx.Get(ctx, schema.Customers, id)
	if err != nil {
		return nil, fmt.Errorf("customer %d: %w", id, err)
	}
	customer := codec.CustomerFromRecord(rec)
	if customer.Archived {
		return nil, fmt.Errorf("%w: customer %s is archived", store.ErrInvalidTransaction, customer.MemberNo)
	}
	_, err = tx.Update(ctx, schema.Customers, id, schema.Record{
		"totalTransactions": customer.TotalTransactions + 1,
		"updatedAt":         now.UTC().Format(timeLayout),
	})
	if err != nil {
		return nil, err
	}
	return &domain.CustomerSnapshot{
		MemberNo: customer.MemberNo,
		Name:     customer.Name,
		Phone:    customer.Phone,
		Address:  customer.Address,
	}, nil
}

// nextReceiptNo derives a receipt number from now and suffixes it until it
// is not taken.
func nextReceiptNo(ctx context.Context, tx store.Tx, now time.Time) (string, error) {
	base := xid.Receipt(now)
	for n := 1; n <= maxReceiptAttempts; n++ {
		candidate := xid.ReceiptAttempt(base, n)
		_, err := tx.GetBy(ctx, schema.Transactions, "receiptNo", candidate)
		if errors.Is(err, store.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: no free receipt number after %s", store.ErrStoreBusy, base)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, store.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, store.ErrInsufficientPayment):
		return "insufficient_payment"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrStoreBusy):
		return "busy"
	case errors.Is(err, store.ErrConstraintViolation):
		return "constraint"
	case errors.Is(err, store.ErrInvalidTransaction):
		return "invalid"
	default:
		return "error"
	}
}

func (s *Service) GetTransaction(ctx context.Context, id int64) (domain.Transaction, error) {
	rec, err := s.store.Get(ctx, schema.Transactions, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	return codec.TransactionFromRecord(rec)
}

// ListTransactions returns transactions dated in [from, to). A zero bound is
// open.
func (s *Service) ListTransactions(ctx context.Context, from, to time.Time) ([]domain.Transaction, error) {
	recs, err := s.store.Find(ctx, schema.Transactions, store.Query{Filter: withinRange("date", from, to)})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Transaction, 0, len(recs))
	for _, rec := range recs {
		tx, err := codec.TransactionFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

// withinRange matches records whose timestamp field falls in [from, to).
// Stored timestamps are parsed rather than compared as text because
// RFC 3339 with trimmed fractions does not sort lexically.
func withinRange(field string, from, to time.Time) func(schema.Record) bool {
	return func(rec schema.Record) bool {
		raw, _ := rec[field].(string)
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return false
		}
		if !from.IsZero() && at.Before(from) {
			return false
		}
		if !to.IsZero() && !at.Before(to) {
			return false
		}
		return true
	}
}
