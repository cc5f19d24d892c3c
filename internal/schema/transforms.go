package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"warungpos/backend/internal/domain"
)

// NormalizeUser derives usernameNorm where it is missing and folds role into
// ADMIN or CASHIER.
func NormalizeUser(rec Record) (Record, error) {
	out := rec.Clone()
	if username, ok := out["username"].(string); ok && username != "" {
		if norm, _ := out["usernameNorm"].(string); norm == "" {
			out["usernameNorm"] = NormalizeUsername(username)
		}
	}
	out["role"] = string(NormalizeRole(out["role"]))
	return out, nil
}

func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// NormalizeRole upper-cases a stored role. Non-strings and unknown roles
// become CASHIER.
func NormalizeRole(v any) domain.Role {
	role, ok := v.(string)
	if !ok {
		return domain.RoleCashier
	}
	switch upper := domain.Role(strings.ToUpper(role)); upper {
	case domain.RoleAdmin, domain.RoleCashier:
		return upper
	default:
		return domain.RoleCashier
	}
}

// BackfillWholesalePrice copies retailPrice into wholesalePrice when the
// wholesale price is unusable and the retail price is usable.
func BackfillWholesalePrice(rec Record) (Record, error) {
	out := rec.Clone()
	retail, retailOK := ParseNonNegativeInt(out["retailPrice"])
	if _, ok := ParseNonNegativeInt(out["wholesalePrice"]); !ok && retailOK {
		out["wholesalePrice"] = retail
	}
	return out, nil
}

// NormalizeProduct derives codeNorm where it is missing and defaults the
// archived flag.
func NormalizeProduct(rec Record) (Record, error) {
	out := rec.Clone()
	if code, ok := out["code"].(string); ok && code != "" {
		if norm, _ := out["codeNorm"].(string); norm == "" {
			out["codeNorm"] = NormalizeCode(code)
		}
	}
	return DefaultArchived(out)
}

func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func DefaultArchived(rec Record) (Record, error) {
	out := rec.Clone()
	if v, ok := out["archived"]; !ok || v == nil {
		out["archived"] = false
	}
	return out, nil
}

// FillReceiptNo gives transactions recorded without a receipt number a
// stable one derived from their key.
func FillReceiptNo(rec Record) (Record, error) {
	out := rec.Clone()
	if receipt, _ := out["receiptNo"].(string); strings.TrimSpace(receipt) != "" {
		return out, nil
	}
	id, ok := out[KeyField]
	if !ok || id == nil {
		return nil, fmt.Errorf("transaction without key cannot be given a receipt number")
	}
	out["receiptNo"] = fmt.Sprintf("TX-LEGACY-%v", id)
	return out, nil
}

// ParseNonNegativeInt reads v the way legacy price fields were read: the value
// is rendered as text, trimmed, and its leading sign and decimal digits are
// parsed. Anything without leading digits, or negative, is rejected.
func ParseNonNegativeInt(v any) (int64, bool) {
	text, ok := numericText(v)
	if !ok {
		return 0, false
	}
	text = strings.TrimSpace(text)
	end := 0
	if end < len(text) && (text[end] == '+' || text[end] == '-') {
		end++
	}
	digitsStart := end
	for end < len(text) && text[end] >= '0' && text[end] <= '9' {
		end++
	}
	if end == digitsStart {
		return 0, false
	}
	n, err := strconv.ParseInt(text[:end], 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func numericText(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case int:
		return strconv.Itoa(t), true
	case int32:
		return strconv.FormatInt(int64(t), 10), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return "", false
		}
		return decimal.NewFromFloat(t).String(), true
	case fmt.Stringer:
		return t.String(), true
	default:
		return "", false
	}
}
