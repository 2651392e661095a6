package launchconfig

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ResolvedConfiguration is a fully resolved configuration ready for use.
type ResolvedConfiguration struct {
	*DebugConfiguration

	// Target is the resolved runtime family (chrome, edge, node).
	Target string
}

// ResolveConfiguration resolves all variables in a configuration.
func ResolveConfiguration(cfg *DebugConfiguration, ctx *ResolutionContext) (*ResolvedConfiguration, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is nil")
	}

	if ctx == nil {
		ctx = &ResolutionContext{}
	}

	missingInputs := ValidateInputsProvided(cfg, ctx.InputValues)
	if len(missingInputs) > 0 {
		return nil, &MissingInputsError{Inputs: missingInputs}
	}

	resolved := &DebugConfiguration{
		Type:         cfg.Type,
		Request:      cfg.Request,
		Name:         cfg.Name,
		StopOnEntry:  cfg.StopOnEntry,
		Port:         cfg.Port,
		ProcessID:    cfg.ProcessID,
		Headless:     cfg.Headless,
		SourceMaps:   cfg.SourceMaps,
		SkipFiles:    cfg.SkipFiles,
		Presentation: cfg.Presentation,
	}

	var err error

	resolved.SkipFiles, err = ResolveStringSlice(cfg.SkipFiles, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve skipFiles: %w", err)
	}

	resolved.Program, err = ResolveStringField(cfg.Program, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve program: %w", err)
	}

	resolved.Cwd, err = ResolveStringField(cfg.Cwd, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cwd: %w", err)
	}

	resolved.WebRoot, err = ResolveStringField(cfg.WebRoot, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve webRoot: %w", err)
	}

	resolved.URL, err = ResolveStringField(cfg.URL, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve url: %w", err)
	}

	resolved.Console, err = ResolveStringField(cfg.Console, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve console: %w", err)
	}

	resolved.Host, err = ResolveStringField(cfg.Host, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve host: %w", err)
	}

	resolved.RuntimeExecutable, err = ResolveStringField(cfg.RuntimeExecutable, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve runtimeExecutable: %w", err)
	}

	resolved.UserDataDir, err = ResolveStringField(cfg.UserDataDir, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve userDataDir: %w", err)
	}

	resolved.ExecutablePath, err = ResolveStringField(cfg.ExecutablePath, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executablePath: %w", err)
	}

	resolved.PreLaunchTask, err = ResolveStringField(cfg.PreLaunchTask, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve preLaunchTask: %w", err)
	}

	resolved.PostDebugTask, err = ResolveStringField(cfg.PostDebugTask, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve postDebugTask: %w", err)
	}

	resolved.Args, err = ResolveStringSlice(cfg.Args, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve args: %w", err)
	}

	resolved.RuntimeArgs, err = ResolveStringSlice(cfg.RuntimeArgs, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve runtimeArgs: %w", err)
	}

	resolved.Env, err = ResolveStringMap(cfg.Env, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve env: %w", err)
	}

	resolved.SourceMapPathOverrides, err = ResolveStringMap(cfg.SourceMapPathOverrides, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sourceMapPathOverrides: %w", err)
	}

	if cfg.Extra != nil {
		resolved.Extra, err = resolveExtraFields(cfg.Extra, ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve extra fields: %w", err)
		}
	}

	return &ResolvedConfiguration{
		DebugConfiguration: resolved,
		Target:             resolved.GetTarget(),
	}, nil
}

// resolveExtraFields recursively resolves variables in extra fields.
func resolveExtraFields(extra map[string]interface{}, ctx *ResolutionContext) (map[string]interface{}, error) {
	result := make(map[string]interface{}, len(extra))

	for k, v := range extra {
		resolved, err := resolveValue(v, ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve extra[%s]: %w", k, err)
		}
		result[k] = resolved
	}

	return result, nil
}

// resolveValue resolves variables in a value of any type.
func resolveValue(v interface{}, ctx *ResolutionContext) (interface{}, error) {
	switch val := v.(type) {
	case string:
		return ResolveVariables(val, ctx)
	case []interface{}:
		result := make([]interface{}, len(val))
		for i, item := range val {
			resolved, err := resolveValue(item, ctx)
			if err != nil {
				return nil, err
			}
			result[i] = resolved
		}
		return result, nil
	case map[string]interface{}:
		result := make(map[string]interface{}, len(val))
		for k, item := range val {
			resolved, err := resolveValue(item, ctx)
			if err != nil {
				return nil, err
			}
			result[k] = resolved
		}
		return result, nil
	default:
		return v, nil
	}
}

// MissingInputsError is returned when required ${input:} values are not provided.
type MissingInputsError struct {
	Inputs []string
}

func (e *MissingInputsError) Error() string {
	return fmt.Sprintf("missing input values: %v", e.Inputs)
}

// IsMissingInputsError checks if an error is a MissingInputsError.
func IsMissingInputsError(err error) (*MissingInputsError, bool) {
	var e *MissingInputsError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// ToLaunchArgs converts a resolved configuration to a map suitable for the DAP launch request.
func (r *ResolvedConfiguration) ToLaunchArgs() map[string]interface{} {
	args := make(map[string]interface{})

	if r.Program != "" {
		args["program"] = r.Program
	}
	if len(r.Args) > 0 {
		args["args"] = r.Args
	}
	if r.Cwd != "" {
		args["cwd"] = r.Cwd
	}
	if r.Env != nil {
		args["env"] = r.Env
	}
	args["stopOnEntry"] = r.StopOnEntry
	if r.Console != "" {
		args["console"] = r.Console
	}

	if r.URL != "" {
		args["url"] = r.URL
	}
	if r.WebRoot != "" {
		args["webRoot"] = r.WebRoot
	}
	if r.Headless {
		args["headless"] = r.Headless
	}
	if r.UserDataDir != "" {
		args["userDataDir"] = r.UserDataDir
	}
	if r.ExecutablePath != "" {
		args["executablePath"] = r.ExecutablePath
	}

	if r.RuntimeExecutable != "" {
		args["runtimeExecutable"] = r.RuntimeExecutable
	}
	if len(r.RuntimeArgs) > 0 {
		args["runtimeArgs"] = r.RuntimeArgs
	}

	if r.SourceMaps != nil {
		args["sourceMaps"] = *r.SourceMaps
	}
	if r.SourceMapPathOverrides != nil {
		args["sourceMapPathOverrides"] = r.SourceMapPathOverrides
	}
	if len(r.SkipFiles) > 0 {
		args["skipFiles"] = r.SkipFiles
	}

	for k, v := range r.Extra {
		args[k] = v
	}

	return args
}

// ToAttachArgs converts a resolved configuration to a map suitable for the DAP attach request.
func (r *ResolvedConfiguration) ToAttachArgs() map[string]interface{} {
	args := make(map[string]interface{})

	if r.Host != "" {
		args["host"] = r.Host
	}
	if r.Port != 0 {
		args["port"] = r.Port
	}
	if r.ProcessID != 0 {
		args["processId"] = r.ProcessID
	}

	if r.URL != "" {
		args["url"] = r.URL
	}
	if r.WebRoot != "" {
		args["webRoot"] = r.WebRoot
	}

	if r.Target != "" {
		args["target"] = r.Target
	}

	if r.SourceMaps != nil {
		args["sourceMaps"] = *r.SourceMaps
	}
	if r.SourceMapPathOverrides != nil {
		args["sourceMapPathOverrides"] = r.SourceMapPathOverrides
	}

	for k, v := range r.Extra {
		args[k] = v
	}

	return args
}

// Clone creates a deep copy of the configuration.
func (cfg *DebugConfiguration) Clone() *DebugConfiguration {
	data, _ := json.Marshal(cfg)
	var clone DebugConfiguration
	_ = json.Unmarshal(data, &clone) // unmarshal of our own marshaled data should not fail
	return &clone
}

// MergeOverrides applies override values to a configuration.
// This allows request arguments to override values from launch.json.
func MergeOverrides(cfg *DebugConfiguration, overrides map[string]interface{}) *DebugConfiguration {
	if len(overrides) == 0 {
		return cfg
	}

	result := cfg.Clone()

	for k, v := range overrides {
		switch k {
		case "program":
			if s, ok := v.(string); ok {
				result.Program = s
			}
		case "args":
			if arr, ok := v.([]interface{}); ok {
				args := make([]string, len(arr))
				for i, item := range arr {
					if s, ok := item.(string); ok {
						args[i] = s
					}
				}
				result.Args = args
			} else if arr, ok := v.([]string); ok {
				result.Args = arr
			}
		case "cwd":
			if s, ok := v.(string); ok {
				result.Cwd = s
			}
		case "env":
			if m, ok := v.(map[string]string); ok {
				result.Env = m
			} else if m, ok := v.(map[string]interface{}); ok {
				env := make(map[string]string)
				for k, v := range m {
					if s, ok := v.(string); ok {
						env[k] = s
					}
				}
				result.Env = env
			}
		case "stopOnEntry":
			if b, ok := v.(bool); ok {
				result.StopOnEntry = b
			}
		case "webRoot":
			if s, ok := v.(string); ok {
				result.WebRoot = s
			}
		case "url":
			if s, ok := v.(string); ok {
				result.URL = s
			}
		default:
			if result.Extra == nil {
				result.Extra = make(map[string]interface{})
			}
			result.Extra[k] = v
		}
	}

	return result
}
