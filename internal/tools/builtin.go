package tools

import "time"

// Config configures the builtin tools.
type Config struct {
	WorkspaceRoot string
	SearchRoot    string
	HTTPTimeout   time.Duration
}

// RegisterBuiltins registers create_file, search_codebase, http_request and,
// when starter is non-nil, execute_workflow.
func RegisterBuiltins(reg *Registry, cfg Config, starter WorkflowStarter) error {
	all := []Tool{
		NewCreateFile(cfg.WorkspaceRoot),
		NewSearchCodebase(cfg.SearchRoot),
		NewHTTPRequest(cfg.HTTPTimeout),
	}
	if starter != nil {
		all = append(all, NewExecuteWorkflow(starter))
	}
	for _, t := range all {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}
