// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// DashboardResponse is the aggregate snapshot backing the landing page.
type DashboardResponse struct {
	TotalTransactions int               `json:"total_transactions"`
	SuccessRate       float64           `json:"success_rate"`
	FraudFlagRate     float64           `json:"fraud_flag_rate"`
	AvgAmountINR      float64           `json:"avg_amount_inr"`
	PeakHour          int               `json:"peak_hour"`
	TopType           string            `json:"top_transaction_type"`
	TopState          string            `json:"top_state"`
	DeviceDist        map[string]int64  `json:"device_distribution"`
	NetworkDist       map[string]int64  `json:"network_distribution"`
	TypeDist          map[string]int64  `json:"transaction_type_distribution"`
	DateRange         map[string]string `json:"date_range"`
}
