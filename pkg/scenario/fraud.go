package scenario

import "github.com/bizyhq/bizy/pkg/rule"

// FraudDetection returns the transaction fraud detection rule set. It screens
// every transaction, deep-dives high risk ones, enforces velocity limits, and
// cross-references external databases for risky merchant categories.
func FraudDetection() []rule.Rule {
	return []rule.Rule{
		{
			ID:          "fraud-transaction-screening",
			Name:        "Real-time transaction screening",
			Description: "Screen all transactions in real time",
			Type:        rule.TypeCondition,
			Priority:    rule.PriorityCritical,
			Conditions: rule.ConditionGroup{
				Combinator: rule.CombinatorAll,
				Conditions: []rule.Condition{
					{Field: "transaction_type", Operator: rule.OpIn, Value: []interface{}{"payment", "transfer", "withdrawal"}},
					{Field: "amount", Operator: rule.OpGreaterThan, Value: 0},
				},
			},
			Actions: []rule.Action{
				{
					Framework: "fastmcp",
					Name:      "execute_tool",
					Parameters: map[string]interface{}{
						"tool_name": "velocity_checker",
						"use_cache": false,
						"parameters": map[string]interface{}{
							"check_types": []interface{}{"frequency", "amount", "location"},
						},
					},
				},
				{
					Framework: "zep",
					Name:      "store_memory",
					Parameters: map[string]interface{}{
						"type": "transaction",
					},
				},
			},
			Tags: []string{"fraud", "screening"},
		},
		{
			ID:          "fraud-high-risk-analysis",
			Name:        "High-risk transaction analysis",
			Description: "Perform deep analysis on high-risk transactions",
			Type:        rule.TypeCondition,
			Priority:    rule.PriorityHigh,
			Conditions: rule.ConditionGroup{
				Combinator: rule.CombinatorAll,
				Conditions: []rule.Condition{
					{Field: "risk_score", Operator: rule.OpGreaterThan, Value: 0.7},
					{Field: "amount", Operator: rule.OpGreaterThan, Value: 1000},
				},
			},
			Actions: []rule.Action{
				{
					Framework: "langchain",
					Name:      "run_agent",
					Parameters: map[string]interface{}{
						"agent_name": "fraud_analyst_agent",
						"task":       "Analyze transaction for fraud indicators",
						"tools":      []interface{}{"pattern_matcher", "anomaly_detector", "risk_calculator"},
					},
				},
				{
					Framework: "temporal",
					Name:      "start_workflow",
					Parameters: map[string]interface{}{
						"workflow_name": "fraud_investigation",
						"parameters": map[string]interface{}{
							"priority":   "high",
							"auto_block": true,
						},
					},
				},
				{
					Framework: "zep",
					Name:      "semantic_search",
					Parameters: map[string]interface{}{
						"query": "similar fraud patterns",
						"scope": []interface{}{"facts"},
						"limit": 10,
					},
				},
			},
			Metadata: map[string]interface{}{
				"required_roles": []string{"operator"},
			},
			Tags: []string{"fraud", "analysis"},
		},
		{
			ID:          "fraud-velocity-check",
			Name:        "Transaction velocity check",
			Description: "Block customers with rapid transactions across locations",
			Type:        rule.TypePolicy,
			Priority:    rule.PriorityHigh,
			Conditions: rule.ConditionGroup{
				Combinator: rule.CombinatorAll,
				Conditions: []rule.Condition{
					{Field: "transaction_count_10min", Operator: rule.OpGreaterThan, Value: 5},
					{Field: "distinct_locations_2hr", Operator: rule.OpGreaterThan, Value: 2},
				},
			},
			Actions: []rule.Action{
				{
					Framework: "mcp",
					Name:      "execute_tool",
					Parameters: map[string]interface{}{
						"tool_name": "transaction_blocker",
						"parameters": map[string]interface{}{
							"action": "block",
							"reason": "velocity_violation",
						},
					},
				},
				{
					Framework: "semantic_kernel",
					Name:      "communicate_agent",
					Parameters: map[string]interface{}{
						"agent_id":     "fraud_team",
						"message_type": "alert",
						"priority":     "critical",
						"message":      "Velocity violation detected",
					},
					ContinueOnError: true,
				},
			},
			Tags: []string{"fraud", "velocity"},
		},
		{
			ID:          "fraud-ml-pattern-detection",
			Name:        "Machine learning pattern detection",
			Description: "Apply machine learning for pattern detection",
			Type:        rule.TypeAction,
			Priority:    rule.PriorityMedium,
			Conditions: rule.ConditionGroup{
				Combinator: rule.CombinatorAll,
				Conditions: []rule.Condition{
					{Field: "enable_ml_analysis", Operator: rule.OpEquals, Value: true},
					{Field: "transaction_history_available", Operator: rule.OpEquals, Value: true},
				},
			},
			Actions: []rule.Action{
				{
					Framework: "fastmcp",
					Name:      "batch_execute",
					Parameters: map[string]interface{}{
						"parallel": true,
						"executions": []interface{}{
							map[string]interface{}{
								"tool_name":  "feature_extractor",
								"parameters": map[string]interface{}{"features": []interface{}{"behavioral", "temporal", "network"}},
							},
							map[string]interface{}{
								"tool_name":  "ml_scorer",
								"parameters": map[string]interface{}{"model": "fraud_detection_v2"},
							},
						},
					},
				},
				{
					Framework: "zep",
					Name:      "extract_facts",
					Parameters: map[string]interface{}{
						"fact_type": "fraud_pattern",
						"source":    "ml_analysis",
					},
				},
			},
			Tags: []string{"fraud", "ml"},
		},
		{
			ID:          "fraud-external-database-check",
			Name:        "External database check",
			Description: "Cross-reference with external fraud databases",
			Type:        rule.TypeAction,
			Priority:    rule.PriorityMedium,
			Conditions: rule.ConditionGroup{
				Combinator: rule.CombinatorAll,
				Conditions: []rule.Condition{
					{Field: "check_external_sources", Operator: rule.OpEquals, Value: true},
					{Field: "merchant_category", Operator: rule.OpIn, Value: []interface{}{"high_risk", "international", "crypto"}},
				},
			},
			Actions: []rule.Action{
				{
					Framework: "mcp",
					Name:      "execute_tool",
					Parameters: map[string]interface{}{
						"tool_name": "external_api_checker",
						"parameters": map[string]interface{}{
							"apis":    []interface{}{"merchant_verification", "sanctions_list", "fraud_database"},
							"timeout": 5000,
						},
					},
					RetryCount: 2,
				},
				{
					Framework: "semantic_kernel",
					Name:      "run_skill",
					Parameters: map[string]interface{}{
						"skill_name":    "DataAggregator",
						"function_name": "MergeExternalResults",
					},
					DependsOn: []string{"execute_tool"},
				},
			},
			Tags: []string{"fraud", "external"},
		},
	}
}
