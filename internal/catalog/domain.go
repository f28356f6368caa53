package catalog

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
)

// SupplierCategory classifies where stock is bought.
type SupplierCategory string

const (
	SupplierLocalShop        SupplierCategory = "LOCAL_SHOP"
	SupplierLocalDistributor SupplierCategory = "LOCAL_DISTRIBUTOR"
	SupplierECommerce        SupplierCategory = "E_COMMERCE"
	SupplierPharmaceutical   SupplierCategory = "PHARMACEUTICAL"
)

// Valid reports whether c is a known category.
func (c SupplierCategory) Valid() bool {
	switch c {
	case SupplierLocalShop, SupplierLocalDistributor, SupplierECommerce, SupplierPharmaceutical:
		return true
	}
	return false
}

// Supplier is a vendor of stock.
type Supplier struct {
	ID       int64            `json:"id"`
	Name     string           `json:"name"`
	Category SupplierCategory `json:"category"`
	Phone    string           `json:"phone"`
	Email    string           `json:"email"`
	Address  string           `json:"address"`
}

// Product groups sellable variants.
type Product struct {
	ID                     int64  `json:"id"`
	Name                   string `json:"name"`
	Category               string `json:"category"`
	Description            string `json:"description"`
	RequiresExpiryTracking bool   `json:"requires_expiry_tracking"`
	IsStockable            bool   `json:"is_stockable"`
}

// ProductSummary is a product list row.
type ProductSummary struct {
	Product
	VariantCount int `json:"variant_count"`
}

// Variant is the stockable unit of a product.
type Variant struct {
	ID                int64           `json:"id"`
	ProductID         int64           `json:"product_id"`
	ProductName       string          `json:"product_name"`
	Brand             string          `json:"brand"`
	SKU               string          `json:"sku"`
	Description       string          `json:"description"`
	Price             decimal.Decimal `json:"price"`
	LowStockThreshold int             `json:"low_stock_threshold"`
	IsActive          bool            `json:"is_active"`
}

// DefaultLowStockThreshold applies when a variant is created without one.
const DefaultLowStockThreshold = 10

// Name joins product, brand and description the way batches and invoice lines label a variant.
func (v Variant) Name() string {
	return VariantName(v.ProductName, v.Brand, v.Description)
}

// VariantName builds the display label of a variant.
func VariantName(product, brand, description string) string {
	parts := []string{product}
	if strings.TrimSpace(brand) != "" {
		parts = append(parts, brand)
	}
	if strings.TrimSpace(description) != "" {
		parts = append(parts, description)
	}
	return strings.Join(parts, " - ")
}

// BillableService is a priced clinic service usable as an invoice line.
type BillableService struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	IsActive    bool            `json:"is_active"`
}

// StockLevel is the available quantity of a variant across its batches.
type StockLevel struct {
	VariantID     int64  `json:"variant_id"`
	Name          string `json:"name"`
	StockQuantity int    `json:"stock_quantity"`
	Threshold     int    `json:"low_stock_threshold"`
	IsActive      bool   `json:"is_active"`
	IsLow         bool   `json:"is_low"`
}

// Shortfall is how far the stock sits below or at its threshold.
func (l StockLevel) Shortfall() int {
	return l.Threshold - l.StockQuantity
}

func newStockLevel(variantID int64, name string, qty, threshold int, active bool) StockLevel {
	return StockLevel{
		VariantID:     variantID,
		Name:          name,
		StockQuantity: qty,
		Threshold:     threshold,
		IsActive:      active,
		IsLow:         active && qty <= threshold,
	}
}

// lowStockOnly keeps low levels ordered by largest shortfall, then name.
func lowStockOnly(levels []StockLevel) []StockLevel {
	low := make([]StockLevel, 0, len(levels))
	for _, level := range levels {
		if level.IsLow {
			low = append(low, level)
		}
	}
	sort.SliceStable(low, func(i, j int) bool {
		if low[i].Shortfall() != low[j].Shortfall() {
			return low[i].Shortfall() > low[j].Shortfall()
		}
		return low[i].Name < low[j].Name
	})
	return low
}

// ListFilter narrows supplier and product listings.
type ListFilter struct {
	Search string
	Limit  int
	Offset int
}

var folder = cases.Fold()

// foldKey normalises values compared for uniqueness.
func foldKey(value string) string {
	return folder.String(strings.TrimSpace(value))
}
