// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package resource

import "fmt"

// Employee is an HR record.
type Employee struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Title      string `json:"title"`
	Department string `json:"department"`
	Location   string `json:"location"`
}

// HREmployees is the HR API's dataset.
func HREmployees() []Employee {
	return []Employee{
		{ID: "E1001", Name: "Alice Example", Title: "VP Engineering", Department: "Engineering", Location: "San Francisco"},
		{ID: "E1002", Name: "Bob Sample", Title: "Staff Engineer", Department: "Engineering", Location: "Remote"},
		{ID: "E1003", Name: "Carol Demo", Title: "HR Business Partner", Department: "People", Location: "New York"},
		{ID: "E1004", Name: "Dan Placeholder", Title: "Account Executive", Department: "Sales", Location: "Chicago"},
	}
}

// Quarter is a financial summary line.
type Quarter struct {
	Period       string  `json:"period"`
	Revenue      int64   `json:"revenue"`
	Expenses     int64   `json:"expenses"`
	NetIncome    int64   `json:"net_income"`
	GrossMargin  float64 `json:"gross_margin"`
	CurrencyCode string  `json:"currency"`
}

// FinancialSummary is the Financial API's dataset.
func FinancialSummary() []Quarter {
	return []Quarter{
		{Period: "FY25-Q1", Revenue: 12400000, Expenses: 9100000, NetIncome: 3300000, GrossMargin: 0.71, CurrencyCode: "USD"},
		{Period: "FY25-Q2", Revenue: 13800000, Expenses: 9600000, NetIncome: 4200000, GrossMargin: 0.73, CurrencyCode: "USD"},
		{Period: "FY25-Q3", Revenue: 14100000, Expenses: 10200000, NetIncome: 3900000, GrossMargin: 0.72, CurrencyCode: "USD"},
	}
}

// Metric is a KPI reading.
type Metric struct {
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
	Unit   string  `json:"unit"`
	Target float64 `json:"target"`
}

// KPIMetrics is the KPI API's dataset.
func KPIMetrics() []Metric {
	return []Metric{
		{Name: "monthly_active_users", Value: 48210, Unit: "users", Target: 50000},
		{Name: "net_revenue_retention", Value: 1.14, Unit: "ratio", Target: 1.10},
		{Name: "support_csat", Value: 4.6, Unit: "score", Target: 4.5},
		{Name: "p95_latency", Value: 182, Unit: "ms", Target: 200},
	}
}

// Dataset returns a built in dataset by name: hr, financial or kpi.
func Dataset(name string) (interface{}, error) {
	const op = "resource.Dataset"
	switch name {
	case "hr":
		return HREmployees(), nil
	case "financial":
		return FinancialSummary(), nil
	case "kpi":
		return KPIMetrics(), nil
	default:
		return nil, fmt.Errorf("%s: %q: %w", op, name, ErrUnknownDataset)
	}
}
