// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/insightx/services/orchestrator/datatypes"
	"github.com/AleutianAI/insightx/services/warehouse"
)

// HandleDashboard serves the dataset-wide aggregate snapshot.
func HandleDashboard(wh *warehouse.Warehouse) gin.HandlerFunc {
	return func(c *gin.Context) {
		profile := wh.Profile()

		topType := "None"
		var topTypeCount int64 = -1
		for t, count := range profile.TypeDistribution {
			if count > topTypeCount || (count == topTypeCount && t < topType) {
				topType, topTypeCount = t, count
			}
		}

		topState := "None"
		if len(profile.TopStates) > 0 {
			topState = profile.TopStates[0].State
		}

		c.JSON(http.StatusOK, datatypes.DashboardResponse{
			TotalTransactions: profile.TotalRows,
			SuccessRate:       profile.SuccessRate,
			FraudFlagRate:     profile.FraudFlagRate,
			AvgAmountINR:      profile.AvgAmountINR,
			PeakHour:          profile.PeakHour,
			TopType:           topType,
			TopState:          topState,
			DeviceDist:        profile.DeviceDist,
			NetworkDist:       profile.NetworkDist,
			TypeDist:          profile.TypeDistribution,
			DateRange:         profile.DateRange,
		})
	}
}
