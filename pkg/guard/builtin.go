package guard

// BuiltinPolicies returns the baseline policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		criticalPriorityPolicy(),
		requiredRolesPolicy(),
		frameworkAllowlistPolicy(),
	}
}

// criticalPriorityPolicy requires the operator role for critical rules.
func criticalPriorityPolicy() Policy {
	return Policy{
		Name:        "critical-priority",
		Description: "Critical-priority rules may only be executed by callers with the operator role",
		Enabled:     true,
		Tags:        []string{"builtin", "rbac"},
		Rego: `package bizy.guard.critical

import rego.v1

deny contains violation if {
	input.rule.priority >= 15
	not caller_has_role("operator")
	violation := {
		"message": sprintf("rule %s is critical priority and requires the operator role", [input.rule.id]),
	}
}

caller_has_role(role) if {
	some r in input.caller.roles
	r == role
}
`,
	}
}

// requiredRolesPolicy enforces rule metadata required_roles.
func requiredRolesPolicy() Policy {
	return Policy{
		Name:        "required-roles",
		Description: "Callers must hold every role listed in the rule's required_roles metadata",
		Enabled:     true,
		Tags:        []string{"builtin", "rbac"},
		Rego: `package bizy.guard.roles

import rego.v1

deny contains violation if {
	some role in input.rule.required_roles
	not caller_has_role(role)
	violation := {
		"message": sprintf("rule %s requires role %s", [input.rule.id, role]),
	}
}

caller_has_role(role) if {
	some r in input.caller.roles
	r == role
}
`,
	}
}

// frameworkAllowlistPolicy denies actions targeting frameworks outside the
// configured allowlist. With no allowlist configured, all frameworks pass.
func frameworkAllowlistPolicy() Policy {
	return Policy{
		Name:        "framework-allowlist",
		Description: "Actions may only target frameworks on the configured allowlist",
		Enabled:     true,
		Tags:        []string{"builtin", "frameworks"},
		Rego: `package bizy.guard.frameworks

import rego.v1

deny contains violation if {
	count(input.allowed_frameworks) > 0
	some action in input.actions
	not action.framework in input.allowed_frameworks
	violation := {
		"message": sprintf("framework %s is not on the allowlist", [action.framework]),
	}
}
`,
	}
}
