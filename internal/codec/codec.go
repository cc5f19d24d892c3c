// Package codec converts between domain entities and stored documents.
//
// Stored documents use camelCase field names, RFC 3339 timestamps, base64
// file payloads and plain nested maps for embedded structures. Nothing else
// in the repository builds or reads documents by field name for these types.
package codec

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"warungpos/backend/internal/domain"
	"warungpos/backend/internal/schema"
)

func UserToRecord(u domain.User) schema.Record {
	rec := schema.Record{
		"username":     u.Username,
		"usernameNorm": u.UsernameNorm,
		"password":     u.Password,
		"role":         string(u.Role),
		"createdAt":    formatTime(u.CreatedAt),
	}
	if u.ID > 0 {
		rec[schema.KeyField] = u.ID
	}
	if u.PhotoFileID != "" {
		rec["photoFileId"] = u.PhotoFileID
	}
	return rec
}

func UserFromRecord(rec schema.Record) domain.User {
	return domain.User{
		ID:           intOf(rec[schema.KeyField]),
		Username:     stringOf(rec["username"]),
		UsernameNorm: stringOf(rec["usernameNorm"]),
		Password:     stringOf(rec["password"]),
		Role:         schema.NormalizeRole(rec["role"]),
		PhotoFileID:  stringOf(rec["photoFileId"]),
		CreatedAt:    timeOf(rec["createdAt"]),
	}
}

func ProductToRecord(p domain.Product) schema.Record {
	rec := schema.Record{
		"code":        p.Code,
		"codeNorm":    p.CodeNorm,
		"name":        p.Name,
		"retailPrice": p.RetailPrice,
		"costPrice":   p.CostPrice,
		"stockQty":    p.StockQty,
		"archived":    p.Archived,
		"createdAt":   formatTime(p.CreatedAt),
		"updatedAt":   formatTime(p.UpdatedAt),
	}
	if p.ID > 0 {
		rec[schema.KeyField] = p.ID
	}
	if p.WholesalePrice != nil {
		rec["wholesalePrice"] = *p.WholesalePrice
	}
	if p.ImageFileID != "" {
		rec["imageFileId"] = p.ImageFileID
	}
	return rec
}

func ProductFromRecord(rec schema.Record) domain.Product {
	p := domain.Product{
		ID:          intOf(rec[schema.KeyField]),
		Code:        stringOf(rec["code"]),
		CodeNorm:    stringOf(rec["codeNorm"]),
		Name:        stringOf(rec["name"]),
		CostPrice:   intOf(rec["costPrice"]),
		StockQty:    intOf(rec["stockQty"]),
		ImageFileID: stringOf(rec["imageFileId"]),
		Archived:    boolOf(rec["archived"]),
		CreatedAt:   timeOf(rec["createdAt"]),
		UpdatedAt:   timeOf(rec["updatedAt"]),
	}
	if retail, ok := Price(rec, "retailPrice"); ok {
		p.RetailPrice = retail
	}
	if wholesale, ok := Price(rec, "wholesalePrice"); ok {
		p.WholesalePrice = &wholesale
	}
	return p
}

// Price reads a money field and reports whether it holds a non-negative
// integer.
func Price(rec schema.Record, field string) (int64, bool) {
	return schema.ParseNonNegativeInt(rec[field])
}

func SupplierToRecord(s domain.Supplier) schema.Record {
	rec := schema.Record{
		"name":              s.Name,
		"bankName":          s.BankName,
		"bankAccountNumber": s.BankAccountNumber,
		"archived":          s.Archived,
		"createdAt":         formatTime(s.CreatedAt),
		"updatedAt":         formatTime(s.UpdatedAt),
	}
	if s.ID > 0 {
		rec[schema.KeyField] = s.ID
	}
	return rec
}

func SupplierFromRecord(rec schema.Record) domain.Supplier {
	return domain.Supplier{
		ID:                intOf(rec[schema.KeyField]),
		Name:              stringOf(rec["name"]),
		BankName:          stringOf(rec["bankName"]),
		BankAccountNumber: stringOf(rec["bankAccountNumber"]),
		Archived:          boolOf(rec["archived"]),
		CreatedAt:         timeOf(rec["createdAt"]),
		UpdatedAt:         timeOf(rec["updatedAt"]),
	}
}

func CustomerToRecord(c domain.Customer) schema.Record {
	rec := schema.Record{
		"memberNo":          c.MemberNo,
		"name":              c.Name,
		"phone":             c.Phone,
		"address":           c.Address,
		"totalTransactions": c.TotalTransactions,
		"archived":          c.Archived,
		"createdAt":         formatTime(c.CreatedAt),
		"updatedAt":         formatTime(c.UpdatedAt),
	}
	if c.ID > 0 {
		rec[schema.KeyField] = c.ID
	}
	if c.PhotoFileID != "" {
		rec["photoFileId"] = c.PhotoFileID
	}
	return rec
}

func CustomerFromRecord(rec schema.Record) domain.Customer {
	return domain.Customer{
		ID:                intOf(rec[schema.KeyField]),
		MemberNo:          stringOf(rec["memberNo"]),
		Name:              stringOf(rec["name"]),
		Phone:             stringOf(rec["phone"]),
		Address:           stringOf(rec["address"]),
		TotalTransactions: intOf(rec["totalTransactions"]),
		PhotoFileID:       stringOf(rec["photoFileId"]),
		Archived:          boolOf(rec["archived"]),
		CreatedAt:         timeOf(rec["createdAt"]),
		UpdatedAt:         timeOf(rec["updatedAt"]),
	}
}

func TransactionToRecord(tx domain.Transaction) schema.Record {
	items := make([]any, 0, len(tx.Items))
	for _, it := range tx.Items {
		item := map[string]any{
			"productId": it.ProductID,
			"code":      it.Code,
			"name":      it.Name,
			"unitPrice": it.UnitPrice,
			"qty":       it.Qty,
			"lineTotal": it.LineTotal,
		}
		if it.Note != "" {
			item["note"] = it.Note
		}
		items = append(items, item)
	}
	rec := schema.Record{
		"type":         string(tx.Type),
		"date":         formatTime(tx.Date),
		"items":        items,
		"subtotal":     tx.Subtotal,
		"discount":     tx.Discount,
		"total":        tx.Total,
		"paymentType":  tx.PaymentType,
		"cashReceived": tx.CashReceived,
		"changeDue":    tx.ChangeDue,
		"receiptNo":    tx.ReceiptNo,
	}
	if tx.ID > 0 {
		rec[schema.KeyField] = tx.ID
	}
	if tx.CustomerID != nil {
		rec["customerId"] = *tx.CustomerID
	}
	if snap := tx.CustomerSnapshot; snap != nil {
		rec["customerSnapshot"] = map[string]any{
			"memberNo": snap.MemberNo,
			"name":     snap.Name,
			"phone":    snap.Phone,
			"address":  snap.Address,
		}
	}
	if tx.Cashier != "" {
		rec["cashier"] = tx.Cashier
	}
	return rec
}

func TransactionFromRecord(rec schema.Record) (domain.Transaction, error) {
	tx := domain.Transaction{
		ID:           intOf(rec[schema.KeyField]),
		Type:         domain.TxType(stringOf(rec["type"])),
		Date:         timeOf(rec["date"]),
		Subtotal:     intOf(rec["subtotal"]),
		Discount:     intOf(rec["discount"]),
		Total:        intOf(rec["total"]),
		PaymentType:  stringOf(rec["paymentType"]),
		CashReceived: intOf(rec["cashReceived"]),
		ChangeDue:    intOf(rec["changeDue"]),
		ReceiptNo:    stringOf(rec["receiptNo"]),
		Cashier:      stringOf(rec["cashier"]),
	}
	if id, ok := int64Of(rec["customerId"]); ok {
		tx.CustomerID = &id
	}

	snap, err := embedded[map[string]any](rec["customerSnapshot"])
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("transaction %d customerSnapshot: %w", tx.ID, err)
	}
	if snap != nil {
		tx.CustomerSnapshot = &domain.CustomerSnapshot{
			MemberNo: stringOf(snap["memberNo"]),
			Name:     stringOf(snap["name"]),
			Phone:    stringOf(snap["phone"]),
			Address:  stringOf(snap["address"]),
		}
	}

	items, err := embedded[[]any](rec["items"])
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("transaction %d items: %w", tx.ID, err)
	}
	tx.Items = make([]domain.TransactionItem, 0, len(items))
	for i, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			return domain.Transaction{}, fmt.Errorf("transaction %d item %d: unexpected %T", tx.ID, i, raw)
		}
		tx.Items = append(tx.Items, domain.TransactionItem{
			ProductID: intOf(item["productId"]),
			Code:      stringOf(item["code"]),
			Name:      stringOf(item["name"]),
			UnitPrice: intOf(item["unitPrice"]),
			Qty:       intOf(item["qty"]),
			LineTotal: intOf(item["lineTotal"]),
			Note:      stringOf(item["note"]),
		})
	}
	return tx, nil
}

func IncomingGoodsToRecord(g domain.IncomingGoods) schema.Record {
	items := make([]any, 0, len(g.Items))
	for _, it := range g.Items {
		items = append(items, map[string]any{
			"productId": it.ProductID,
			"code":      it.Code,
			"name":      it.Name,
			"qty":       it.Qty,
			"costPrice": it.CostPrice,
			"lineTotal": it.LineTotal,
		})
	}
	rec := schema.Record{
		"invoiceNo":       g.InvoiceNo,
		"supplierId":      g.SupplierID,
		"items":           items,
		"grandTotal":      g.GrandTotal,
		"transactionTime": formatTime(g.TransactionTime),
	}
	if g.ID > 0 {
		rec[schema.KeyField] = g.ID
	}
	return rec
}

func IncomingGoodsFromRecord(rec schema.Record) (domain.IncomingGoods, error) {
	g := domain.IncomingGoods{
		ID:              intOf(rec[schema.KeyField]),
		InvoiceNo:       stringOf(rec["invoiceNo"]),
		SupplierID:      intOf(rec["supplierId"]),
		GrandTotal:      intOf(rec["grandTotal"]),
		TransactionTime: timeOf(rec["transactionTime"]),
	}
	items, err := embedded[[]any](rec["items"])
	if err != nil {
		return domain.IncomingGoods{}, fmt.Errorf("incoming goods %d items: %w", g.ID, err)
	}
	g.Items = make([]domain.IncomingGoodsItem, 0, len(items))
	for i, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			return domain.IncomingGoods{}, fmt.Errorf("incoming goods %d item %d: unexpected %T", g.ID, i, raw)
		}
		g.Items = append(g.Items, domain.IncomingGoodsItem{
			ProductID: intOf(item["productId"]),
			Code:      stringOf(item["code"]),
			Name:      stringOf(item["name"]),
			Qty:       intOf(item["qty"]),
			CostPrice: intOf(item["costPrice"]),
			LineTotal: intOf(item["lineTotal"]),
		})
	}
	return g, nil
}

func SettingsToRecord(s domain.Settings) schema.Record {
	rec := schema.Record{
		schema.KeyField: domain.SettingsKey,
		"businessName":  s.BusinessName,
		"address":       s.Address,
		"theme":         s.Theme,
		"currency":      s.Currency,
	}
	if s.LogoURL != "" {
		rec["logoUrl"] = s.LogoURL
	}
	return rec
}

func SettingsFromRecord(rec schema.Record) domain.Settings {
	return domain.Settings{
		ID:           stringOf(rec[schema.KeyField]),
		BusinessName: stringOf(rec["businessName"]),
		Address:      stringOf(rec["address"]),
		LogoURL:      stringOf(rec["logoUrl"]),
		Theme:        stringOf(rec["theme"]),
		Currency:     stringOf(rec["currency"]),
	}
}

func FileToRecord(f domain.FileRecord) schema.Record {
	return schema.Record{
		schema.KeyField: f.ID,
		"data":          base64.StdEncoding.EncodeToString(f.Data),
		"mimeType":      f.MimeType,
		"kind":          string(f.Kind),
		"createdAt":     formatTime(f.CreatedAt),
	}
}

func FileFromRecord(rec schema.Record) (domain.FileRecord, error) {
	f := domain.FileRecord{
		ID:        stringOf(rec[schema.KeyField]),
		MimeType:  stringOf(rec["mimeType"]),
		Kind:      domain.FileKind(stringOf(rec["kind"])),
		CreatedAt: timeOf(rec["createdAt"]),
	}
	switch data := rec["data"].(type) {
	case []byte:
		f.Data = append([]byte(nil), data...)
	case string:
		decoded, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return domain.FileRecord{}, fmt.Errorf("file %s payload: %w", f.ID, err)
		}
		f.Data = decoded
	case nil:
	default:
		return domain.FileRecord{}, fmt.Errorf("file %s payload: unexpected %T", f.ID, data)
	}
	return f, nil
}

// embedded reads a nested structure. Rows written by the relational mirror
// hold items and customerSnapshot as JSON text, so strings are decoded first.
func embedded[T map[string]any | []any](v any) (T, error) {
	var zero T
	switch t := v.(type) {
	case nil:
		return zero, nil
	case T:
		return t, nil
	case schema.Record:
		if m, ok := any(map[string]any(t)).(T); ok {
			return m, nil
		}
	case string:
		if strings.TrimSpace(t) == "" {
			return zero, nil
		}
		dec := json.NewDecoder(strings.NewReader(t))
		dec.UseNumber()
		var out T
		if err := dec.Decode(&out); err != nil {
			return zero, err
		}
		return normalizeEmbedded(out), nil
	}
	return zero, fmt.Errorf("unexpected %T", v)
}

func normalizeEmbedded[T map[string]any | []any](v T) T {
	wrapped := schema.Normalize(schema.Record{"v": any(v)})
	out, _ := wrapped["v"].(T)
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func timeOf(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed.UTC()
		}
	case int64:
		return time.UnixMilli(t).UTC()
	}
	return time.Time{}
}

func stringOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case fmt.Stringer:
		return t.String()
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprint(t)
	}
}

func intOf(v any) int64 {
	n, _ := int64Of(v)
	return n
}

func int64Of(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func boolOf(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	default:
		return false
	}
}
