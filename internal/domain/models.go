package domain

import "time"

type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleCashier Role = "CASHIER"
)

type TxType string

const (
	TxRetail    TxType = "RETAIL"
	TxWholesale TxType = "WHOLESALE"
)

type FileKind string

const (
	FileAvatar  FileKind = "AVATAR"
	FileProduct FileKind = "PRODUCT"
	FileLogo    FileKind = "LOGO"
)

const (
	PaymentCash = "CASH"

	// NoteFallbackRetail marks a wholesale line priced at retail because the
	// product had no usable wholesale price.
	NoteFallbackRetail = "fallback-retail"

	SettingsKey = "app"
)

// Session identifies the caller of an operation. It is passed explicitly to
// every service method that needs to know who is acting.
type Session struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

func (s Session) IsAdmin() bool {
	return s.Role == RoleAdmin
}

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	UsernameNorm string    `json:"username_norm"`
	Password     string    `json:"-"`
	Role         Role      `json:"role"`
	PhotoFileID  string    `json:"photo_file_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type UserCreateRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required,min=6"`
	Role     Role   `json:"role" validate:"required,oneof=ADMIN CASHIER"`
}

type ProfileUpdateRequest struct {
	Password    *string `json:"password,omitempty" validate:"omitempty,min=6"`
	PhotoFileID *string `json:"photo_file_id,omitempty"`
}

type Product struct {
	ID          int64  `json:"id"`
	Code        string `json:"code"`
	CodeNorm    string `json:"code_norm"`
	Name        string `json:"name"`
	RetailPrice int64  `json:"retail_price"`
	// WholesalePrice is nil when the stored value is missing or not a
	// non-negative integer.
	WholesalePrice *int64    `json:"wholesale_price,omitempty"`
	CostPrice      int64     `json:"cost_price"`
	StockQty       int64     `json:"stock_qty"`
	ImageFileID    string    `json:"image_file_id,omitempty"`
	Archived       bool      `json:"archived"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type ProductCreateRequest struct {
	Code           string `json:"code" validate:"required,max=64"`
	Name           string `json:"name" validate:"required,max=200"`
	RetailPrice    int64  `json:"retail_price" validate:"gte=0,lte=1000000000000"`
	WholesalePrice *int64 `json:"wholesale_price,omitempty" validate:"omitempty,gte=0,lte=1000000000000"`
	CostPrice      int64  `json:"cost_price" validate:"gte=0,lte=1000000000000"`
	StockQty       int64  `json:"stock_qty" validate:"gte=0,lte=1000000000"`
	ImageFileID    string `json:"image_file_id,omitempty"`
}

type ProductUpdateRequest struct {
	Code           *string `json:"code,omitempty" validate:"omitempty,max=64"`
	Name           *string `json:"name,omitempty" validate:"omitempty,max=200"`
	RetailPrice    *int64  `json:"retail_price,omitempty" validate:"omitempty,gte=0,lte=1000000000000"`
	WholesalePrice *int64  `json:"wholesale_price,omitempty" validate:"omitempty,gte=0,lte=1000000000000"`
	CostPrice      *int64  `json:"cost_price,omitempty" validate:"omitempty,gte=0,lte=1000000000000"`
	StockQty       *int64  `json:"stock_qty,omitempty" validate:"omitempty,gte=0,lte=1000000000"`
	ImageFileID    *string `json:"image_file_id,omitempty"`
}

type ProductFilter struct {
	Archived    *bool  `json:"archived,omitempty"`
	InStockOnly bool   `json:"in_stock_only"`
	SearchTerm  string `json:"search_term"`
}

type Supplier struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	BankName          string    `json:"bank_name"`
	BankAccountNumber string    `json:"bank_account_number"`
	Archived          bool      `json:"archived"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type SupplierRequest struct {
	Name              *string `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	BankName          *string `json:"bank_name,omitempty"`
	BankAccountNumber *string `json:"bank_account_number,omitempty"`
}

type Customer struct {
	ID                int64     `json:"id"`
	MemberNo          string    `json:"member_no"`
	Name              string    `json:"name"`
	Phone             string    `json:"phone"`
	Address           string    `json:"address"`
	TotalTransactions int64     `json:"total_transactions"`
	PhotoFileID       string    `json:"photo_file_id,omitempty"`
	Archived          bool      `json:"archived"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type CustomerRequest struct {
	MemberNo    *string `json:"member_no,omitempty" validate:"omitempty,min=1,max=64"`
	Name        *string `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Phone       *string `json:"phone,omitempty"`
	Address     *string `json:"address,omitempty"`
	PhotoFileID *string `json:"photo_file_id,omitempty"`
}

type CustomerFilter struct {
	IncludeArchived bool   `json:"include_archived"`
	SearchTerm      string `json:"search_term"`
}

// CustomerSnapshot is copied into a transaction at sale time and never
// updated afterwards.
type CustomerSnapshot struct {
	MemberNo string `json:"member_no"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
}

type TransactionItem struct {
	ProductID int64  `json:"product_id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Qty       int64  `json:"qty"`
	LineTotal int64  `json:"line_total"`
	Note      string `json:"note,omitempty"`
}

type Transaction struct {
	ID               int64             `json:"id"`
	Type             TxType            `json:"type"`
	Date             time.Time         `json:"date"`
	CustomerID       *int64            `json:"customer_id,omitempty"`
	CustomerSnapshot *CustomerSnapshot `json:"customer_snapshot,omitempty"`
	Items            []TransactionItem `json:"items"`
	Subtotal         int64             `json:"subtotal"`
	Discount         int64             `json:"discount"`
	Total            int64             `json:"total"`
	PaymentType      string            `json:"payment_type"`
	CashReceived     int64             `json:"cash_received"`
	ChangeDue        int64             `json:"change_due"`
	ReceiptNo        string            `json:"receipt_no"`
	Cashier          string            `json:"cashier,omitempty"`
}

type SaleLine struct {
	ProductID int64 `json:"product_id" validate:"gt=0"`
	Qty       int64 `json:"qty" validate:"gte=1,lte=1000000000"`
}

type SaleRequest struct {
	Type         TxType     `json:"type" validate:"required,oneof=RETAIL WHOLESALE"`
	CustomerID   *int64     `json:"customer_id,omitempty" validate:"omitempty,gt=0"`
	Items        []SaleLine `json:"items" validate:"required,min=1,dive"`
	CashReceived int64      `json:"cash_received" validate:"gte=0"`
	Discount     int64      `json:"discount" validate:"gte=0"`
	PaymentType  string     `json:"payment_type,omitempty"`
}

type IncomingGoodsItem struct {
	ProductID int64  `json:"product_id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	Qty       int64  `json:"qty"`
	CostPrice int64  `json:"cost_price"`
	LineTotal int64  `json:"line_total"`
}

type IncomingGoods struct {
	ID              int64               `json:"id"`
	InvoiceNo       string              `json:"invoice_no"`
	SupplierID      int64               `json:"supplier_id"`
	Items           []IncomingGoodsItem `json:"items"`
	GrandTotal      int64               `json:"grand_total"`
	TransactionTime time.Time           `json:"transaction_time"`
}

type IncomingGoodsLine struct {
	ProductID int64 `json:"product_id" validate:"gt=0"`
	Qty       int64 `json:"qty" validate:"gte=1,lte=1000000000"`
	CostPrice int64 `json:"cost_price" validate:"gte=0,lte=1000000000000"`
}

type IncomingGoodsRequest struct {
	InvoiceNo  string              `json:"invoice_no" validate:"required,max=100"`
	SupplierID int64               `json:"supplier_id" validate:"gt=0"`
	Items      []IncomingGoodsLine `json:"items" validate:"required,min=1,dive"`
}

type Settings struct {
	ID           string `json:"id"`
	BusinessName string `json:"business_name"`
	Address      string `json:"address"`
	LogoURL      string `json:"logo_url,omitempty"`
	Theme        string `json:"theme"`
	Currency     string `json:"currency"`
}

type SettingsUpdateRequest struct {
	BusinessName *string `json:"business_name,omitempty" validate:"omitempty,min=1,max=200"`
	Address      *string `json:"address,omitempty"`
	LogoURL      *string `json:"logo_url,omitempty"`
	Theme        *string `json:"theme,omitempty" validate:"omitempty,oneof=dark light"`
	Currency     *string `json:"currency,omitempty" validate:"omitempty,len=3"`
}

type FileRecord struct {
	ID        string    `json:"id"`
	Data      []byte    `json:"-"`
	MimeType  string    `json:"mime_type"`
	Kind      FileKind  `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

type DailyReport struct {
	Date           string       `json:"date"`
	Transactions   int          `json:"transactions"`
	RetailCount    int          `json:"retail_count"`
	WholesaleCount int          `json:"wholesale_count"`
	Subtotal       int64        `json:"subtotal"`
	Discount       int64        `json:"discount"`
	Total          int64        `json:"total"`
	RetailTotal    int64        `json:"retail_total"`
	WholesaleTotal int64        `json:"wholesale_total"`
	CashReceived   int64        `json:"cash_received"`
	ItemsSold      int64        `json:"items_sold"`
	TopProducts    []TopProduct `json:"top_products"`
}

type TopProduct struct {
	ProductID int64  `json:"product_id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	Qty       int64  `json:"qty"`
	Revenue   int64  `json:"revenue"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Username    string `json:"username"`
	Role        Role   `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}
