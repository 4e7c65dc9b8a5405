package models

// InventoryReport holds aggregate statistics over stored listings.
type InventoryReport struct {
	TotalListings  int
	ActiveListings int
	BySource       map[Source]int
	ByCity         map[string]int
	AveragePrice   float64
	MinPrice       int
	MaxPrice       int
	MostExpensive  *Listing
	MissingSqft    int
}

// RankingSummary condenses one ranking pass for display.
type RankingSummary struct {
	Eligible       int
	Filtered       int
	AverageScore   float64
	TopScore       float64
	LowestScore    float64
	WithoutCommute int
	Top            []RankedResult
	Warnings       []string
}
