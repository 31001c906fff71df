package domain

// Pair is the unit of reconciliation: one member on one product, together
// with the enrollment snapshot and the product's reengagement config.
type Pair struct {
	Member     Member
	Product    Product
	Enrollment Enrollment
	Config     ReengagementConfig
}
