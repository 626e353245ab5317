package services

import (
	"github.com/shopspring/decimal"
)

// Plan codes.
const (
	PlanTrial  = "trial"
	PlanStart  = "start"
	PlanPro    = "pro"
	PlanFamily = "family"
)

// A month is billed as a fixed 30 days.
const DaysPerMonth = 30

// PlanOption is one purchasable row of the catalog.
type PlanOption struct {
	Code         string
	Months       int
	DurationDays int
	Price        decimal.Decimal
	DevicesLimit int
	Name         string
}

func rub(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

var planOptions = []PlanOption{
	{Code: PlanTrial, Months: 0, DurationDays: 2, Price: rub(0), DevicesLimit: 1, Name: "Trial (48h)"},

	{Code: PlanStart, Months: 1, DurationDays: 1 * DaysPerMonth, Price: rub(249), DevicesLimit: 3, Name: "Start"},
	{Code: PlanStart, Months: 3, DurationDays: 3 * DaysPerMonth, Price: rub(499), DevicesLimit: 3, Name: "Start"},
	{Code: PlanStart, Months: 6, DurationDays: 6 * DaysPerMonth, Price: rub(999), DevicesLimit: 3, Name: "Start"},
	{Code: PlanStart, Months: 12, DurationDays: 12 * DaysPerMonth, Price: rub(1999), DevicesLimit: 3, Name: "Start"},

	{Code: PlanPro, Months: 1, DurationDays: 1 * DaysPerMonth, Price: rub(399), DevicesLimit: 5, Name: "Pro"},
	{Code: PlanPro, Months: 3, DurationDays: 3 * DaysPerMonth, Price: rub(899), DevicesLimit: 5, Name: "Pro"},
	{Code: PlanPro, Months: 6, DurationDays: 6 * DaysPerMonth, Price: rub(1399), DevicesLimit: 5, Name: "Pro"},
	{Code: PlanPro, Months: 12, DurationDays: 12 * DaysPerMonth, Price: rub(2499), DevicesLimit: 5, Name: "Pro"},

	{Code: PlanFamily, Months: 3, DurationDays: 3 * DaysPerMonth, Price: rub(1099), DevicesLimit: 10, Name: "Family"},
	{Code: PlanFamily, Months: 6, DurationDays: 6 * DaysPerMonth, Price: rub(1599), DevicesLimit: 10, Name: "Family"},
	{Code: PlanFamily, Months: 12, DurationDays: 12 * DaysPerMonth, Price: rub(2999), DevicesLimit: 10, Name: "Family"},
}

// PlanOptions returns the catalog, optionally without the trial row.
func PlanOptions(includeTrial bool) []PlanOption {
	if includeTrial {
		out := make([]PlanOption, len(planOptions))
		copy(out, planOptions)
		return out
	}
	out := make([]PlanOption, 0, len(planOptions))
	for _, p := range planOptions {
		if p.Code != PlanTrial {
			out = append(out, p)
		}
	}
	return out
}

// GetPlanOption resolves one catalog row.
func GetPlanOption(code string, months int) (PlanOption, error) {
	for _, p := range planOptions {
		if p.Code == code && p.Months == months {
			return p, nil
		}
	}
	return PlanOption{}, ErrUnknownPlan
}

// TrialOption returns the trial catalog row.
func TrialOption() PlanOption {
	opt, _ := GetPlanOption(PlanTrial, 0)
	return opt
}

// IsPaidPlan reports whether the code is one of the purchasable tiers.
func IsPaidPlan(code string) bool {
	return code == PlanStart || code == PlanPro || code == PlanFamily
}
