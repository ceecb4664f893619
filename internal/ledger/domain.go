package ledger

import (
	"errors"
	"time"
)

// ItemType classifies a stock-keeping unit.
type ItemType string

const (
	ItemTypeRawMaterial     ItemType = "RAW_MATERIAL"
	ItemTypeComponent       ItemType = "COMPONENT"
	ItemTypeFinishedProduct ItemType = "FINISHED_PRODUCT"
	ItemTypeConsumable      ItemType = "CONSUMABLE"
	ItemTypeTool            ItemType = "TOOL"
)

// TransactionType enumerates supported stock movements.
type TransactionType string

const (
	TxPurchaseReceipt   TransactionType = "PURCHASE_RECEIPT"
	TxProductionReceipt TransactionType = "PRODUCTION_RECEIPT"
	TxReturnReceipt     TransactionType = "RETURN_RECEIPT"
	TxOpeningBalance    TransactionType = "OPENING_BALANCE"
	TxTransferIn        TransactionType = "TRANSFER_IN"
	TxSalesIssue        TransactionType = "SALES_ISSUE"
	TxProductionIssue   TransactionType = "PRODUCTION_ISSUE"
	TxReturnIssue       TransactionType = "RETURN_ISSUE"
	TxTransferOut       TransactionType = "TRANSFER_OUT"
	TxAdjustment        TransactionType = "ADJUSTMENT"
	TxPhysicalCount     TransactionType = "PHYSICAL_COUNT"
)

// direction returns +1 for receipt-like types, -1 for issue-like types and 0
// for types that carry a signed quantity as-is.
func (t TransactionType) direction() (int, bool) {
	switch t {
	case TxPurchaseReceipt, TxProductionReceipt, TxReturnReceipt, TxOpeningBalance, TxTransferIn:
		return 1, true
	case TxSalesIssue, TxProductionIssue, TxReturnIssue, TxTransferOut:
		return -1, true
	case TxAdjustment, TxPhysicalCount:
		return 0, true
	default:
		return 0, false
	}
}

// IsReceipt reports whether the type adds stock.
func (t TransactionType) IsReceipt() bool {
	d, ok := t.direction()
	return ok && d > 0
}

// Valid reports whether the type is recognised.
func (t TransactionType) Valid() bool {
	_, ok := t.direction()
	return ok
}

// Item is a trackable stock-keeping unit. The ledger is the single writer of
// CurrentStock, AverageCost and LastPurchaseCost.
type Item struct {
	ID               int64
	Code             string
	Name             string
	Type             ItemType
	CurrentStock     float64
	ReservedStock    float64
	MinimumStock     float64
	ReorderPoint     float64
	ReorderQuantity  float64
	StandardCost     float64
	AverageCost      float64
	LastPurchaseCost float64
	Active           bool
	UpdatedAt        time.Time
}

// Entry is one immutable stock movement. StockAfter always equals StockBefore
// plus the signed quantity.
type Entry struct {
	ID            int64
	Code          string
	ItemID        int64
	Type          TransactionType
	Quantity      float64
	UnitCost      float64
	StockBefore   float64
	StockAfter    float64
	BatchID       int64
	SerialID      int64
	SrcLocationID int64
	DstLocationID int64
	Note          string
	RefModule     string
	RefID         string
	PostedAt      time.Time
	CreatedBy     int64
}

// RecordInput describes a movement to post. Quantity is a magnitude for
// directional types and a signed delta for ADJUSTMENT/PHYSICAL_COUNT.
type RecordInput struct {
	ItemID         int64
	Type           TransactionType
	Quantity       float64
	UnitCost       float64
	BatchID        int64
	SerialID       int64
	SrcLocationID  int64
	DstLocationID  int64
	Note           string
	RefModule      string
	RefID          string
	ActorID        int64
	IdempotencyKey string
}

// EntryFilter narrows ledger listings for one item.
type EntryFilter struct {
	ItemID int64
	Type   TransactionType
	From   time.Time
	To     time.Time
	Limit  int
}

var (
	// ErrInsufficientStock is returned when a movement would drive stock negative.
	ErrInsufficientStock = errors.New("ledger: insufficient stock")
	// ErrItemNotFound indicates the referenced item does not exist.
	ErrItemNotFound = errors.New("ledger: item not found")
	// ErrInvalidTransactionType indicates an unrecognised movement type.
	ErrInvalidTransactionType = errors.New("ledger: invalid transaction type")
	// ErrInvalidQuantity indicates a zero quantity.
	ErrInvalidQuantity = errors.New("ledger: quantity must be non zero")
	// ErrInvalidUnitCost indicates a negative cost value.
	ErrInvalidUnitCost = errors.New("ledger: unit cost must be >= 0")
)
