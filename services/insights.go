package services

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"apartment-ranker/models"
	"apartment-ranker/utils"
)

// TopN is the number of ranked listings shown in a summary.
const TopN = 10

var titleCase = cases.Title(language.English)

type InsightService struct {
	logger *utils.Logger
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

// Inventory aggregates stored listings.
func (s *InsightService) Inventory(listings []*models.Listing) *models.InventoryReport {
	report := &models.InventoryReport{
		BySource: make(map[models.Source]int),
		ByCity:   make(map[string]int),
	}
	if len(listings) == 0 {
		return report
	}

	report.TotalListings = len(listings)

	var total int
	var priced int
	for _, l := range listings {
		if l.IsActive {
			report.ActiveListings++
		}
		report.BySource[l.Source]++
		if l.City != "" {
			report.ByCity[titleCase.String(l.City)]++
		}
		if l.Sqft == nil {
			report.MissingSqft++
		}
		if l.Price <= 0 {
			continue
		}
		if priced == 0 || l.Price < report.MinPrice {
			report.MinPrice = l.Price
		}
		if l.Price > report.MaxPrice {
			report.MaxPrice = l.Price
			report.MostExpensive = l
		}
		total += l.Price
		priced++
	}
	if priced > 0 {
		report.AveragePrice = round2(float64(total) / float64(priced))
	}
	return report
}

// Summarize condenses a ranking for display.
func (s *InsightService) Summarize(r *Ranking) *models.RankingSummary {
	sum := &models.RankingSummary{
		Eligible: r.Count,
		Filtered: r.Filtered,
		Warnings: r.Warnings,
	}
	if len(r.Results) == 0 {
		return sum
	}

	var total float64
	for _, res := range r.Results {
		total += res.Composite
		if res.Commute == nil {
			sum.WithoutCommute++
		}
	}
	sum.AverageScore = round1(total / float64(len(r.Results)))
	sum.TopScore = r.Results[0].Composite
	sum.LowestScore = r.Results[len(r.Results)-1].Composite

	top := r.Results
	if len(top) > TopN {
		top = top[:TopN]
	}
	sum.Top = top
	return sum
}

// PrintInventory writes an inventory report to w.
func (s *InsightService) PrintInventory(w io.Writer, r *models.InventoryReport) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  🏢 APARTMENT INVENTORY\033[0m\n")
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	fmt.Fprintf(w, "\033[1;33m  Overview\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Total listings  : \033[1m%d\033[0m\n", r.TotalListings)
	fmt.Fprintf(w, "  Active listings : \033[1m%d\033[0m\n", r.ActiveListings)
	fmt.Fprintf(w, "  Missing sqft    : \033[1m%d\033[0m\n", r.MissingSqft)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Rent (per month)\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if r.AveragePrice > 0 {
		fmt.Fprintf(w, "  Average rent : \033[1;32m$%.2f\033[0m\n", r.AveragePrice)
		fmt.Fprintf(w, "  Minimum rent : \033[1;32m$%d\033[0m\n", r.MinPrice)
		fmt.Fprintf(w, "  Maximum rent : \033[1;32m$%d\033[0m\n", r.MaxPrice)
	} else {
		fmt.Fprintf(w, "  No price data available\n")
	}
	if r.MostExpensive != nil {
		fmt.Fprintf(w, "  Most expensive: %s (\033[1;31m$%d/mo\033[0m)\n",
			truncate(r.MostExpensive.Address, 36), r.MostExpensive.Price)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Listings by Source\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	sources := make(map[string]int, len(r.BySource))
	for src, n := range r.BySource {
		sources[titleCase.String(string(src))] = n
	}
	printBars(w, sources)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Listings by City\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	printBars(w, r.ByCity)

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

// PrintRanking writes a ranking summary to w.
func (s *InsightService) PrintRanking(w io.Writer, r *models.RankingSummary) {
	sep := strings.Repeat("═", 80)

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  TOP %d MATCHES (out of %d qualifying apartments)\033[0m\n", len(r.Top), r.Eligible)
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n", sep)

	for _, warn := range r.Warnings {
		fmt.Fprintf(w, "\033[1;33m  ⚠ %s\033[0m\n", warn)
	}
	if len(r.Top) == 0 {
		fmt.Fprintf(w, "\n  No apartments match your criteria. Try adjusting your requirements.\n")
		fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
		return
	}

	for i, res := range r.Top {
		l := res.Listing
		fmt.Fprintf(w, "\n\033[1m%d. SCORE: %d/100\033[0m - %s\n", i+1, res.DisplayScore(), l.Address)
		fmt.Fprintf(w, "   $%d/mo | %s\n", l.Price, sizeInfo(&l))
		if res.Commute != nil {
			fmt.Fprintf(w, "   Commute: %.1f mi (~%.0f min)\n", res.Commute.DistanceMiles, res.Commute.EstimatedMinutes)
		}
		parts := make([]string, 0, len(res.Breakdown))
		for _, c := range res.Breakdown.Present() {
			parts = append(parts, fmt.Sprintf("%s: %.1f", titleCase.String(string(c)), res.Breakdown[c].Score))
		}
		fmt.Fprintf(w, "   Score breakdown: %s\n", strings.Join(parts, " | "))
		fmt.Fprintf(w, "   %s\n", l.ListingURL)
	}

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\n  Average score: %.1f/100\n", r.AverageScore)
	fmt.Fprintf(w, "  Top score: %.1f/100\n", r.TopScore)
	if r.Eligible > 1 {
		fmt.Fprintf(w, "  Lowest score: %.1f/100\n", r.LowestScore)
	}
	if r.WithoutCommute > 0 {
		fmt.Fprintf(w, "  Ranked without commute: %d\n", r.WithoutCommute)
	}
	fmt.Fprintln(w)
}

// printBars prints one bar per key, largest count first.
func printBars(w io.Writer, counts map[string]int) {
	if len(counts) == 0 {
		fmt.Fprintf(w, "  No data\n")
		return
	}
	type keyCount struct {
		key   string
		count int
	}
	var rows []keyCount
	for k, n := range counts {
		rows = append(rows, keyCount{k, n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].count != rows[j].count {
			return rows[i].count > rows[j].count
		}
		return rows[i].key < rows[j].key
	})
	for _, r := range rows {
		bar := strings.Repeat("█", min(r.count, 40))
		fmt.Fprintf(w, "  %-30s %s (%d)\n", truncate(r.key, 28), bar, r.count)
	}
}

func round1(f float64) float64 {
	return float64(int(f*10+0.5)) / 10
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

// truncate shortens s to at most max characters, never splitting a rune.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
