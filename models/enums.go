package models

type CounterpartRole string

const (
	CounterpartRoleSupplier CounterpartRole = "supplier"
	CounterpartRoleClient   CounterpartRole = "client"
)

type CounterpartType string

const (
	CounterpartTypeIndividualLocal CounterpartType = "individual_local"
	CounterpartTypeBusinessLocal   CounterpartType = "business_local"
	CounterpartTypeForeign         CounterpartType = "foreign"
)

func (t CounterpartType) IsLocal() bool {
	return t == CounterpartTypeIndividualLocal || t == CounterpartTypeBusinessLocal
}

func (t CounterpartType) IsValid() bool {
	switch t {
	case CounterpartTypeIndividualLocal, CounterpartTypeBusinessLocal, CounterpartTypeForeign:
		return true
	}
	return false
}

type IdentifierType string

const (
	IdentifierTypeTaxId    IdentifierType = "tax_id"
	IdentifierTypeCin      IdentifierType = "cin"
	IdentifierTypePassport IdentifierType = "passport"
)

type DocumentKind string

const (
	// purchase: stock in, counterpart is a supplier
	DocumentKindPurchase DocumentKind = "purchase"
	// invoice: stock out, counterpart is a client
	DocumentKindInvoice DocumentKind = "invoice"
)

func (k DocumentKind) IsOutgoingStock() bool {
	return k == DocumentKindInvoice
}

func (k DocumentKind) CounterpartRole() CounterpartRole {
	if k == DocumentKindPurchase {
		return CounterpartRoleSupplier
	}
	return CounterpartRoleClient
}

type CreationMode string

const (
	CreationModeFromExtraction CreationMode = "from_extraction"
	CreationModeFromRequest    CreationMode = "from_request"
	CreationModeManual         CreationMode = "manual"
)

// MatchDecision is the matcher's recommendation for a candidate.
type MatchDecision string

const (
	MatchDecisionMatched        MatchDecision = "matched"
	MatchDecisionSelectExisting MatchDecision = "select_existing"
	MatchDecisionCreateNew      MatchDecision = "create_new"
)

// LineDecision is the user-confirmed binding of a line to the catalog.
type LineDecision string

const (
	LineDecisionUseExisting LineDecision = "use_existing"
	LineDecisionSelectOther LineDecision = "select_other"
	LineDecisionCreateNew   LineDecision = "create_new"
)

func (d LineDecision) IsValid() bool {
	switch d {
	case LineDecisionUseExisting, LineDecisionSelectOther, LineDecisionCreateNew:
		return true
	}
	return false
}

// BindsExistingProduct reports whether the decision references a catalog
// product id rather than a create-new draft.
func (d LineDecision) BindsExistingProduct() bool {
	return d == LineDecisionUseExisting || d == LineDecisionSelectOther
}

type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusProcessed RequestStatus = "processed"
	RequestStatusRejected  RequestStatus = "rejected"
	RequestStatusConverted RequestStatus = "converted"
)

type PaymentStatus string

const (
	PaymentStatusUnpaid  PaymentStatus = "unpaid"
	PaymentStatusPartial PaymentStatus = "partial"
	PaymentStatusPaid    PaymentStatus = "paid"
)

type PaymentRequestStatus string

const (
	PaymentRequestStatusPending          PaymentRequestStatus = "pending"
	PaymentRequestStatusAwaitingApproval PaymentRequestStatus = "awaiting_approval"
	PaymentRequestStatusApproved         PaymentRequestStatus = "approved"
	PaymentRequestStatusRejected         PaymentRequestStatus = "rejected"
)

type StockMovementReason string

const (
	StockMovementReasonPurchase         StockMovementReason = "purchase"
	StockMovementReasonSale             StockMovementReason = "sale"
	StockMovementReasonOpeningStock     StockMovementReason = "opening_stock"
	StockMovementReasonManualAdjustment StockMovementReason = "manual_adjustment"
	StockMovementReasonReversal         StockMovementReason = "reversal"
)
