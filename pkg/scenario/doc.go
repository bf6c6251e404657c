// Package scenario packages ready-made rule sets for common coordination
// problems: fraud detection, customer service workflows, and inventory
// management. Each builder returns plain rules that can be stored, validated,
// and executed like any operator-authored rule. YAML twins of every set live
// under examples/rules/.
package scenario
