package scenario

import "github.com/bizyhq/bizy/pkg/rule"

// CustomerService returns the customer service workflow rule set: sentiment
// triage of new interactions, escalation of unhappy premium customers,
// automated responses for simple queries, knowledge base search, and
// resolution tracking.
func CustomerService() []rule.Rule {
	return []rule.Rule{
		{
			ID:          "cs-interaction-analysis",
			Name:        "Customer interaction analysis",
			Description: "Analyze new customer interactions and initiate the workflow",
			Type:        rule.TypeWorkflow,
			Priority:    rule.PriorityHigh,
			Conditions: rule.ConditionGroup{
				Combinator: rule.CombinatorAll,
				Conditions: []rule.Condition{
					{Field: "interaction_type", Operator: rule.OpEquals, Value: "customer_service"},
					{Field: "status", Operator: rule.OpEquals, Value: "new"},
				},
			},
			Actions: []rule.Action{
				{
					Framework: "langchain",
					Name:      "analyze_document",
					Parameters: map[string]interface{}{
						"analysis_type":    "sentiment",
						"include_entities": true,
						"include_topics":   true,
					},
				},
				{
					Framework: "zep",
					Name:      "store_memory",
					Parameters: map[string]interface{}{
						"type": "conversation",
						"metadata": map[string]interface{}{
							"channel": "support",
						},
					},
				},
				{
					Framework: "temporal",
					Name:      "start_workflow",
					Parameters: map[string]interface{}{
						"workflow_name": "customer_service_flow",
					},
				},
			},
			Tags: []string{"customer-service", "triage"},
		},
		{
			ID:          "cs-escalation-decision",
			Name:        "Customer escalation decision",
			Description: "Escalate premium customers with negative sentiment",
			Type:        rule.TypeCondition,
			Priority:    rule.PriorityCritical,
			Conditions: rule.ConditionGroup{
				Combinator: rule.CombinatorAll,
				Conditions: []rule.Condition{
					{Field: "sentiment_score", Operator: rule.OpLessThan, Value: 0.3},
					{Field: "customer_tier", Operator: rule.OpIn, Value: []interface{}{"premium", "enterprise"}},
				},
			},
			Actions: []rule.Action{
				{
					Framework: "semantic_kernel",
					Name:      "communicate_agent",
					Parameters: map[string]interface{}{
						"agent_id":     "senior_support_agent",
						"message_type": "escalation",
						"priority":     "high",
					},
				},
				{
					Framework: "temporal",
					Name:      "signal_workflow",
					Parameters: map[string]interface{}{
						"signal_name": "escalate_to_human",
						"signal_data": map[string]interface{}{
							"reason":  "negative_sentiment_premium_customer",
							"urgency": "high",
						},
					},
				},
				{
					Framework: "zep",
					Name:      "extract_facts",
					Parameters: map[string]interface{}{
						"fact_type":  "escalation_event",
						"confidence": 1.0,
					},
					ContinueOnError: true,
				},
			},
			Metadata: map[string]interface{}{
				"required_roles": []string{"operator"},
			},
			Tags: []string{"customer-service", "escalation"},
		},
		{
			ID:          "cs-automated-response",
			Name:        "Automated response generation",
			Description: "Generate automated responses for simple queries",
			Type:        rule.TypeAction,
			Priority:    rule.PriorityMedium,
			Conditions: rule.ConditionGroup{
				Combinator: rule.CombinatorAll,
				Conditions: []rule.Condition{
					{Field: "sentiment_score", Operator: rule.OpGreaterOrEqual, Value: 0.5},
					{Field: "query_type", Operator: rule.OpIn, Value: []interface{}{"faq", "simple_inquiry", "status_check"}},
					{Field: "requires_human", Operator: rule.OpEquals, Value: false},
				},
			},
			Actions: []rule.Action{
				{
					Framework: "langchain",
					Name:      "run_chain",
					Parameters: map[string]interface{}{
						"chain_name": "customer_response_generator",
						"tone":       "professional_friendly",
					},
				},
				{
					Framework: "fastmcp",
					Name:      "execute_tool",
					Parameters: map[string]interface{}{
						"tool_name": "response_optimizer",
						"use_cache": true,
						"parameters": map[string]interface{}{
							"personalization_level": "medium",
						},
					},
					DependsOn: []string{"run_chain"},
				},
			},
			Tags: []string{"customer-service", "automation"},
		},
		{
			ID:          "cs-knowledge-base-search",
			Name:        "Knowledge base search",
			Description: "Search the knowledge base for relevant information",
			Type:        rule.TypeAction,
			Priority:    rule.PriorityMedium,
			Conditions: rule.ConditionGroup{
				Combinator: rule.CombinatorAll,
				Conditions: []rule.Condition{
					{Field: "requires_information", Operator: rule.OpEquals, Value: true},
					{Field: "knowledge_base_available", Operator: rule.OpEquals, Value: true},
				},
			},
			Actions: []rule.Action{
				{
					Framework: "mcp",
					Name:      "execute_tool",
					Parameters: map[string]interface{}{
						"tool_name": "knowledge_search",
						"parameters": map[string]interface{}{
							"limit":           5,
							"include_related": true,
						},
					},
				},
				{
					Framework: "semantic_kernel",
					Name:      "run_skill",
					Parameters: map[string]interface{}{
						"skill_name":    "KnowledgeEnhancer",
						"function_name": "ExpandQuery",
					},
				},
				{
					Framework: "fastmcp",
					Name:      "cache_result",
					Parameters: map[string]interface{}{
						"ttl":        3600,
						"key_prefix": "kb_search",
					},
					ContinueOnError: true,
				},
			},
			Tags: []string{"customer-service", "knowledge"},
		},
		{
			ID:          "cs-resolution-tracking",
			Name:        "Resolution tracking",
			Description: "Track and document interaction resolutions",
			Type:        rule.TypePolicy,
			Priority:    rule.PriorityLow,
			Conditions: rule.ConditionGroup{
				Combinator: rule.CombinatorAll,
				Conditions: []rule.Condition{
					{Field: "interaction_status", Operator: rule.OpIn, Value: []interface{}{"resolved", "closed"}},
				},
			},
			Actions: []rule.Action{
				{
					Framework: "temporal",
					Name:      "signal_workflow",
					Parameters: map[string]interface{}{
						"signal_name": "mark_resolved",
					},
				},
				{
					Framework: "zep",
					Name:      "store_memory",
					Parameters: map[string]interface{}{
						"type": "resolution",
					},
				},
				{
					Framework: "langchain",
					Name:      "run_chain",
					Parameters: map[string]interface{}{
						"chain_name":              "resolution_summarizer",
						"include_recommendations": true,
					},
					ContinueOnError: true,
				},
			},
			Tags: []string{"customer-service", "resolution"},
		},
	}
}
