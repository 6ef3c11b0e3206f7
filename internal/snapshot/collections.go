package snapshot

// TenantCollections are exported per tenant, filtered by ownerId, in this
// fixed order so re-running produces comparably shaped archives.
var TenantCollections = []string{
	"users", "stores", "inventory", "customers",
	"services", "transactions", "sales",
	"suppliers", "brands", "cash_accounts", "cash_flow",
	"debts", "attendance", "leaves", "shifts",
	"payroll", "salarySettings", "purchases",
	"return_purchases", "return_sales",
	"kelengkapan_items", "master_kelengkapan_items",
	"master_qc_functional_items", "qc_functional_items",
	"monthlyBudgets",
}

// GlobalCollections are exported once per run with no owner filter.
var GlobalCollections = []string{
	"owners", "Product", "Transaction", "plan_configs", "subscription_config",
}

// FileFields maps collections to their file-reference fields.
var FileFields = map[string][]string{
	"users": {"avatar"},
}
