package shared

// Ledger permissions carried in staff bearer tokens.
const (
	PermCatalogView = "catalog.view"
	PermCatalogEdit = "catalog.edit"

	PermInventoryView = "inventory.view"
	PermInventoryEdit = "inventory.edit"

	PermProcurementView = "procurement.view"
	PermProcurementEdit = "procurement.edit"

	PermReturnsEdit = "returns.edit"

	PermBillingView = "billing.view"
	PermBillingEdit = "billing.edit"

	PermAuditView = "audit.view"
)

// LedgerScopes lists every permission understood by the ledger API.
func LedgerScopes() []string {
	return []string{
		PermCatalogView,
		PermCatalogEdit,
		PermInventoryView,
		PermInventoryEdit,
		PermProcurementView,
		PermProcurementEdit,
		PermReturnsEdit,
		PermBillingView,
		PermBillingEdit,
		PermAuditView,
	}
}
