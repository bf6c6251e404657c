package scenario

import "github.com/bizyhq/bizy/pkg/rule"

// InventoryManagement returns the inventory management rule set: dynamic
// reorder point calculation, automatic reordering, demand prediction,
// multi-location allocation, and seasonal adjustments.
func InventoryManagement() []rule.Rule {
	return []rule.Rule{
		{
			ID:          "inv-reorder-point",
			Name:        "Calculate reorder point",
			Description: "Calculate dynamic reorder points based on sales patterns",
			Type:        rule.TypeCondition,
			Priority:    rule.PriorityHigh,
			Conditions: rule.ConditionGroup{
				Combinator: rule.CombinatorAll,
				Conditions: []rule.Condition{
					{Field: "product.status", Operator: rule.OpEquals, Value: "active"},
					{Field: "product.auto_reorder", Operator: rule.OpEquals, Value: true},
				},
			},
			Actions: []rule.Action{
				{
					Framework: "fastmcp",
					Name:      "execute_tool",
					Parameters: map[string]interface{}{
						"tool_name": "reorder_calculator",
						"use_cache": true,
						"parameters": map[string]interface{}{
							"formula":       "daily_sales_avg * lead_time * safety_factor",
							"safety_factor": 1.5,
						},
					},
				},
				{
					Framework: "zep",
					Name:      "store_memory",
					Parameters: map[string]interface{}{
						"type": "inventory_calculation",
						"metadata": map[string]interface{}{
							"calculation_type": "reorder_point",
						},
					},
				},
			},
			Tags: []string{"inventory", "reorder"},
		},
		{
			ID:          "inv-auto-reorder",
			Name:        "Auto reorder trigger",
			Description: "Automatically trigger reorders when inventory falls below threshold",
			Type:        rule.TypeWorkflow,
			Priority:    rule.PriorityCritical,
			Conditions: rule.ConditionGroup{
				Combinator: rule.CombinatorAll,
				Conditions: []rule.Condition{
					{Field: "inventory_below_threshold", Operator: rule.OpEquals, Value: true},
					{Field: "supplier.status", Operator: rule.OpEquals, Value: "active"},
					{Field: "product.discontinued", Operator: rule.OpEquals, Value: false},
				},
			},
			Actions: []rule.Action{
				{
					Framework: "temporal",
					Name:      "start_workflow",
					Parameters: map[string]interface{}{
						"workflow_name": "purchase_order_workflow",
					},
				},
				{
					Framework: "semantic_kernel",
					Name:      "communicate_agent",
					Parameters: map[string]interface{}{
						"agent_id":     "supply_chain_coordinator",
						"message_type": "reorder_notification",
					},
					ContinueOnError: true,
				},
				{
					Framework: "mcp",
					Name:      "execute_tool",
					Parameters: map[string]interface{}{
						"tool_name": "purchase_order_creator",
					},
					DependsOn: []string{"start_workflow"},
				},
			},
			Metadata: map[string]interface{}{
				"required_roles": []string{"operator"},
			},
			Tags: []string{"inventory", "reorder"},
		},
		{
			ID:          "inv-demand-prediction",
			Name:        "Demand prediction analysis",
			Description: "Predict future demand using historical patterns",
			Type:        rule.TypeAction,
			Priority:    rule.PriorityMedium,
			Conditions: rule.ConditionGroup{
				Combinator: rule.CombinatorAll,
				Conditions: []rule.Condition{
					{Field: "enable_predictive_analytics", Operator: rule.OpEquals, Value: true},
					{Field: "historical_data_months", Operator: rule.OpGreaterOrEqual, Value: 3},
				},
			},
			Actions: []rule.Action{
				{
					Framework: "zep",
					Name:      "retrieve_memory",
					Parameters: map[string]interface{}{
						"session_id": "inventory_history",
						"types":      []interface{}{"sales", "inventory_level"},
					},
				},
				{
					Framework: "langchain",
					Name:      "run_agent",
					Parameters: map[string]interface{}{
						"agent_name": "demand_predictor",
						"task":       "Predict demand for next 30 days",
						"tools":      []interface{}{"trend_analyzer", "seasonality_detector", "forecast_generator"},
					},
					DependsOn: []string{"retrieve_memory"},
				},
				{
					Framework: "fastmcp",
					Name:      "batch_execute",
					Parameters: map[string]interface{}{
						"parallel": true,
						"executions": []interface{}{
							map[string]interface{}{
								"tool_name":  "forecast_optimizer",
								"parameters": map[string]interface{}{"confidence_level": 0.95},
							},
							map[string]interface{}{
								"tool_name":  "scenario_planner",
								"parameters": map[string]interface{}{"scenarios": []interface{}{"best", "worst", "likely"}},
							},
						},
					},
					DependsOn: []string{"run_agent"},
				},
			},
			Tags: []string{"inventory", "forecasting"},
		},
		{
			ID:          "inv-multi-location-allocation",
			Name:        "Multi-location allocation",
			Description: "Optimize inventory allocation across multiple locations",
			Type:        rule.TypePolicy,
			Priority:    rule.PriorityMedium,
			Conditions: rule.ConditionGroup{
				Combinator: rule.CombinatorAll,
				Conditions: []rule.Condition{
					{Field: "location_count", Operator: rule.OpGreaterThan, Value: 1},
					{Field: "allocation_needed", Operator: rule.OpEquals, Value: true},
				},
			},
			Actions: []rule.Action{
				{
					Framework: "fastmcp",
					Name:      "execute_tool",
					Parameters: map[string]interface{}{
						"tool_name": "allocation_optimizer",
						"parameters": map[string]interface{}{
							"method":  "weighted_distribution",
							"factors": []interface{}{"historical_sales", "current_demand", "storage_capacity"},
						},
					},
				},
				{
					Framework: "temporal",
					Name:      "start_workflow",
					Parameters: map[string]interface{}{
						"workflow_name": "inventory_transfer",
					},
					DependsOn: []string{"execute_tool"},
				},
				{
					Framework: "mcp",
					Name:      "inventory_updater",
					Parameters: map[string]interface{}{
						"reason": "allocation_optimization",
					},
					DependsOn: []string{"start_workflow"},
				},
			},
			Tags: []string{"inventory", "allocation"},
		},
		{
			ID:          "inv-seasonal-adjustment",
			Name:        "Seasonal inventory adjustment",
			Description: "Adjust inventory levels for seasonal demand patterns",
			Type:        rule.TypePolicy,
			Priority:    rule.PriorityLow,
			Conditions: rule.ConditionGroup{
				Combinator: rule.CombinatorAll,
				Conditions: []rule.Condition{
					{Field: "is_seasonal_product", Operator: rule.OpEquals, Value: true},
					{Field: "days_to_season_start", Operator: rule.OpLessOrEqual, Value: 60},
				},
			},
			Actions: []rule.Action{
				{
					Framework: "langchain",
					Name:      "run_chain",
					Parameters: map[string]interface{}{
						"chain_name":         "seasonal_analyzer",
						"historical_seasons": 3,
						"adjustment_factors": []interface{}{"weather", "holidays", "trends"},
					},
				},
				{
					Framework: "semantic_kernel",
					Name:      "run_skill",
					Parameters: map[string]interface{}{
						"skill_name":    "InventoryPlanner",
						"function_name": "AdjustSeasonalParameters",
					},
				},
				{
					Framework: "zep",
					Name:      "extract_facts",
					Parameters: map[string]interface{}{
						"fact_type":  "seasonal_pattern",
						"confidence": 0.85,
					},
					ContinueOnError: true,
				},
			},
			Tags: []string{"inventory", "seasonal"},
		},
	}
}
