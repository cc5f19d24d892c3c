package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"warungpos/backend/internal/codec"
	"warungpos/backend/internal/domain"
	"warungpos/backend/internal/schema"
	"warungpos/backend/internal/store"
)

// RecordIncomingGoods books a supplier delivery: the document is stored and
// every listed product gains its quantity, atomically.
func (s *Service) RecordIncomingGoods(ctx context.Context, sess domain.Session, req domain.IncomingGoodsRequest) (domain.IncomingGoods, error) {
	if err := requireAdmin(sess); err != nil {
		return domain.IncomingGoods{}, err
	}
	req.InvoiceNo = strings.TrimSpace(req.InvoiceNo)
	if err := s.validateRequest(req); err != nil {
		return domain.IncomingGoods{}, err
	}

	ids := make([]int64, 0, len(req.Items))
	for _, line := range req.Items {
		ids = append(ids, line.ProductID)
	}
	release, err := s.lockProducts(uniqueIDs(ids))
	if err != nil {
		s.observeBusy(err)
		return domain.IncomingGoods{}, err
	}
	defer release()

	var doc domain.IncomingGoods
	err = s.store.Atomic(ctx, func(tx store.Tx) error {
		supplierRec, err := tx.Get(ctx, schema.Suppliers, req.SupplierID)
		if err != nil {
			return fmt.Errorf("supplier %d: %w", req.SupplierID, err)
		}
		if codec.SupplierFromRecord(supplierRec).Archived {
			return fmt.Errorf("%w: supplier %d is archived", store.ErrInvalidTransaction, req.SupplierID)
		}

		now := s.now().UTC()
		doc = domain.IncomingGoods{
			InvoiceNo:       req.InvoiceNo,
			SupplierID:      req.SupplierID,
			TransactionTime: now,
			Items:           make([]domain.IncomingGoodsItem, 0, len(req.Items)),
		}
		stock := map[int64]int64{}
		for _, line := range req.Items {
			rec, err := tx.Get(ctx, schema.Products, line.ProductID)
			if err != nil {
				return fmt.Errorf("product %d: %w", line.ProductID, err)
			}
			product := codec.ProductFromRecord(rec)
			if _, seen := stock[product.ID]; !seen {
				stock[product.ID] = product.StockQty
			}
			if stock[product.ID], err = addAmount(stock[product.ID], line.Qty); err != nil {
				return fmt.Errorf("product %s: %w", product.Code, err)
			}

			item := domain.IncomingGoodsItem{
				ProductID: product.ID,
				Code:      product.Code,
				Name:      product.Name,
				Qty:       line.Qty,
				CostPrice: line.CostPrice,
			}
			if item.LineTotal, err = mulAmount(line.Qty, line.CostPrice); err != nil {
				return fmt.Errorf("product %s: %w", product.Code, err)
			}
			doc.Items = append(doc.Items, item)
			if doc.GrandTotal, err = addAmount(doc.GrandTotal, item.LineTotal); err != nil {
				return err
			}
		}

		stamp := now.Format(timeLayout)
		for id, qty := range stock {
			if _, err := tx.Update(ctx, schema.Products, id, schema.Record{"stockQty": qty, "updatedAt": stamp}); err != nil {
				return err
			}
		}
		key, err := tx.Insert(ctx, schema.IncomingGoods, codec.IncomingGoodsToRecord(doc))
		if err != nil {
			return err
		}
		doc.ID, err = store.IntKey(key)
		return err
	})
	if err != nil {
		s.observeBusy(err)
		return domain.IncomingGoods{}, err
	}

	s.metrics.IncomingGoods.Inc()
	s.logger.Infow("incoming goods recorded",
		"incoming_id", doc.ID,
		"invoice_no", doc.InvoiceNo,
		"supplier_id", doc.SupplierID,
		"grand_total", doc.GrandTotal,
		"by", sess.Username,
	)
	return doc, nil
}

// ListIncomingGoods returns deliveries recorded in [from, to).
func (s *Service) ListIncomingGoods(ctx context.Context, from, to time.Time) ([]domain.IncomingGoods, error) {
	recs, err := s.store.Find(ctx, schema.IncomingGoods, store.Query{Filter: withinRange("transactionTime", from, to)})
	if err != nil {
		return nil, err
	}
	out := make([]domain.IncomingGoods, 0, len(recs))
	for _, rec := range recs {
		doc, err := codec.IncomingGoodsFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
