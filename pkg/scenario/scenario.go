package scenario

import "github.com/bizyhq/bizy/pkg/rule"

// All returns every packaged rule set keyed by scenario name.
func All() map[string][]rule.Rule {
	return map[string][]rule.Rule{
		"fraud-detection":      FraudDetection(),
		"customer-service":     CustomerService(),
		"inventory-management": InventoryManagement(),
	}
}
