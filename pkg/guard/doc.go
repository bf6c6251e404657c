// Package guard provides Open Policy Agent (OPA) based authorization for
// rule executions.
//
// Every execution request is evaluated against a set of Rego policies
// before any action is dispatched. Policies produce deny results; a single
// deny blocks the execution. The engine ships with built-in policies for
// role-based access (critical-priority rules, required_roles metadata) and
// an optional framework allowlist, and supports loading custom .rego files
// alongside them.
//
// Creating an engine and wiring it into the orchestrator:
//
//	eng, err := guard.NewEngine(guard.Config{
//	    AllowedFrameworks: []string{"payments", "notifications"},
//	}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	orch, err := orchestrator.New(orchestrator.Options{
//	    Registry: registry,
//	    Guard:    eng,
//	}, logger)
//
// Custom policies see an input document with the rule summary
// (input.rule.id, input.rule.priority, input.rule.required_roles), the
// caller (input.caller.id, input.caller.roles), the action list
// (input.actions[_].framework), and the configured allowlist. They deny by
// adding to a deny set:
//
//	package bizy.guard.hours
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.rule.priority < 10
//	    time.clock(time.now_ns())[0] < 8
//	    violation := {"message": "low-priority rules do not run before 08:00"}
//	}
package guard
