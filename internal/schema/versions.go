package schema

var (
	usersV1 = Collection{Name: Users, AutoIncrement: true, Unique: []string{"username"}}
	usersV2 = Collection{Name: Users, AutoIncrement: true, Unique: []string{"username", "usernameNorm"}}
	usersV7 = Collection{Name: Users, AutoIncrement: true, Unique: []string{"username", "usernameNorm"}, Indexed: []string{"role"}}

	productsV1 = Collection{Name: Products, AutoIncrement: true, Unique: []string{"code"}, Indexed: []string{"name"}}
	productsV4 = Collection{Name: Products, AutoIncrement: true, Unique: []string{"code"}, Indexed: []string{"name", "stockQty"}}
	productsV6 = Collection{Name: Products, AutoIncrement: true, Unique: []string{"code", "codeNorm"}, Indexed: []string{"name", "stockQty", "archived"}}

	suppliersV1 = Collection{Name: Suppliers, AutoIncrement: true, Indexed: []string{"name"}}
	suppliersV6 = Collection{Name: Suppliers, AutoIncrement: true, Indexed: []string{"name", "archived"}}

	customersV1 = Collection{Name: Customers, AutoIncrement: true, Unique: []string{"memberNo"}, Indexed: []string{"name", "phone"}}
	customersV6 = Collection{Name: Customers, AutoIncrement: true, Unique: []string{"memberNo"}, Indexed: []string{"name", "phone", "archived"}}

	transactionsV1 = Collection{Name: Transactions, AutoIncrement: true, Indexed: []string{"date", "type", "customerId", "receiptNo"}}
	transactionsV8 = Collection{Name: Transactions, AutoIncrement: true, Unique: []string{"receiptNo"}, Indexed: []string{"date", "type", "customerId"}}

	incomingGoodsV1 = Collection{Name: IncomingGoods, AutoIncrement: true, Indexed: []string{"transactionTime", "supplierId", "invoiceNo"}}

	settingsV1 = Collection{Name: Settings}

	filesV5 = Collection{Name: Files, Indexed: []string{"kind"}}
)

var history = []Version{
	{
		Number:      1,
		Collections: []Collection{usersV1, productsV1, suppliersV1, customersV1, transactionsV1, incomingGoodsV1, settingsV1},
	},
	{
		Number:      2,
		Collections: []Collection{usersV2, productsV1, suppliersV1, customersV1, transactionsV1, incomingGoodsV1, settingsV1},
		Upgrade: []Transform{
			{Collection: Users, Name: "normalize-username-and-role", Apply: NormalizeUser},
		},
	},
	{
		Number:      3,
		Collections: []Collection{usersV2, productsV1, suppliersV1, customersV1, transactionsV1, incomingGoodsV1, settingsV1},
		Upgrade: []Transform{
			{Collection: Products, Name: "backfill-wholesale-price", Apply: BackfillWholesalePrice},
		},
	},
	{
		Number:      4,
		Collections: []Collection{usersV2, productsV4, suppliersV1, customersV1, transactionsV1, incomingGoodsV1, settingsV1},
	},
	{
		Number:      5,
		Collections: []Collection{usersV2, productsV4, suppliersV1, customersV1, transactionsV1, incomingGoodsV1, settingsV1, filesV5},
	},
	{
		Number:      6,
		Collections: []Collection{usersV2, productsV6, suppliersV6, customersV6, transactionsV1, incomingGoodsV1, settingsV1, filesV5},
		Upgrade: []Transform{
			{Collection: Products, Name: "normalize-product-code", Apply: NormalizeProduct},
			{Collection: Suppliers, Name: "default-archived", Apply: DefaultArchived},
			{Collection: Customers, Name: "default-archived", Apply: DefaultArchived},
		},
	},
	{
		Number:      7,
		Collections: []Collection{usersV7, productsV6, suppliersV6, customersV6, transactionsV1, incomingGoodsV1, settingsV1, filesV5},
	},
	{
		Number:      8,
		Collections: []Collection{usersV7, productsV6, suppliersV6, customersV6, transactionsV8, incomingGoodsV1, settingsV1, filesV5},
		Upgrade: []Transform{
			{Collection: Transactions, Name: "fill-receipt-number", Apply: FillReceiptNo},
		},
	},
}
