package domain

// OrderUpdate is a conditional write of an order: it applies only if the
// stored version still equals ExpectedVersion.
type OrderUpdate struct {
	Order           *Order
	ExpectedVersion int64
}

// Fill is the atomic unit committed when a settlement succeeds: every order
// update and the completed trade become visible together or not at all.
type Fill struct {
	Orders []OrderUpdate
	Trade  *Trade
}
