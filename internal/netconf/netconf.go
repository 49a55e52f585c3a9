package netconf

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/clbanning/mxj/v2"

	"github.com/netfabd/netfabd/internal/log"
	"github.com/netfabd/netfabd/internal/model"
)

// Result is the structured outcome of one executed operation. Result
// holds the operation payload on success and a message otherwise.
type Result struct {
	Success bool        `json:"success"`
	Result  interface{} `json:"result"`
}

// noOperation is the defensive default payload, returned only when no
// operation branch executed. Unreachable with a validated spec.
const noOperation = "No NETCONF operation selected."

// Validate rejects an operation descriptor that could not dispatch.
// Called when a service is created or updated, before it is stored.
func Validate(spec *model.NetconfSpec) error {
	switch spec.Operation {
	case model.NetconfGetConfig, model.NetconfPushConfig, model.NetconfCopyConfig:
	case model.NetconfGetFilteredConfig, model.NetconfRPC:
		if strings.TrimSpace(spec.XMLFilter) == "" {
			return fmt.Errorf("operation %q requires an XML filter", spec.Operation)
		}
	default:
		return fmt.Errorf("unknown NETCONF operation %q", spec.Operation)
	}
	if spec.Operation == model.NetconfCopyConfig {
		if spec.CopySource == model.CopySourceURL && spec.SourceURL == "" {
			return fmt.Errorf("copy source is %q but no source URL is set", model.CopySourceURL)
		}
		if spec.CopyDestination == model.CopyDestinationURL && spec.DestinationURL == "" {
			return fmt.Errorf("copy destination is %q but no destination URL is set", model.CopyDestinationURL)
		}
	}
	if _, err := template.New("filter").Option("missingkey=error").Parse(spec.XMLFilter); err != nil {
		return fmt.Errorf("invalid XML filter template: %w", err)
	}
	return nil
}

// renderFilter substitutes run variables into the XML filter template.
// Referencing an undefined variable fails the run.
func renderFilter(spec *model.NetconfSpec, vars map[string]interface{}) (string, error) {
	tmpl, err := template.New("filter").Option("missingkey=error").Parse(spec.XMLFilter)
	if err != nil {
		return "", fmt.Errorf("parsing XML filter template: %w", err)
	}
	var rendered strings.Builder
	if err := tmpl.Execute(&rendered, vars); err != nil {
		return "", fmt.Errorf("rendering XML filter template: %w", err)
	}
	return rendered.String(), nil
}

// option maps the "None" form token to the absent modifier.
func option(value string) string {
	if value == model.NoneOption {
		return ""
	}
	return value
}

// Run executes exactly one NETCONF operation on an open session and
// returns its structured result. The lock and unlock flags bracket the
// dispatch for every operation kind; commit follows edit-config and
// copy-config when the commit flag is set. Session errors propagate to
// the caller; only the payload shape is handled here.
func Run(ctx context.Context, session Session, device *model.Device, spec *model.NetconfSpec, username string, vars map[string]interface{}) (*Result, error) {
	log.Audit("Running NETCONF operation",
		"operation", string(spec.Operation),
		"device", device.Name,
		"address", device.IPAddress,
		"user", username)

	result := &Result{Success: false, Result: noOperation}

	if spec.Lock {
		if err := session.Lock(ctx, spec.Target); err != nil {
			return nil, err
		}
	}

	switch spec.Operation {
	case model.NetconfGetConfig:
		payload, err := session.GetConfig(ctx, spec.Target)
		if err != nil {
			return nil, err
		}
		if result, err = convert(result, spec, payload); err != nil {
			return nil, err
		}

	case model.NetconfGetFilteredConfig:
		filter, err := renderFilter(spec, vars)
		if err != nil {
			return nil, err
		}
		payload, err := session.Get(ctx, filter)
		if err != nil {
			return nil, err
		}
		if result, err = convert(result, spec, payload); err != nil {
			return nil, err
		}

	case model.NetconfPushConfig:
		config, err := renderFilter(spec, vars)
		if err != nil {
			return nil, err
		}
		payload, err := session.EditConfig(ctx, spec.Target, config, EditOptions{
			DefaultOperation: option(spec.DefaultOperation),
			TestOption:       option(spec.TestOption),
			ErrorOption:      option(spec.ErrorOption),
		})
		if err != nil {
			return nil, err
		}
		if spec.CommitConf {
			if err := session.Commit(ctx); err != nil {
				return nil, err
			}
		}
		if result, err = convert(result, spec, payload); err != nil {
			return nil, err
		}

	case model.NetconfCopyConfig:
		source := spec.CopySource
		if source == model.CopySourceURL {
			source = spec.SourceURL
		}
		destination := spec.CopyDestination
		if destination == model.CopyDestinationURL {
			destination = spec.DestinationURL
		}
		payload, err := session.CopyConfig(ctx, source, destination)
		if err != nil {
			return nil, err
		}
		if spec.CommitConf {
			if err := session.Commit(ctx); err != nil {
				return nil, err
			}
		}
		if result, err = convert(result, spec, payload); err != nil {
			return nil, err
		}

	case model.NetconfRPC:
		content, err := renderFilter(spec, vars)
		if err != nil {
			return nil, err
		}
		payload, err := session.RPC(ctx, content)
		if err != nil {
			return nil, err
		}
		if result, err = convert(result, spec, payload); err != nil {
			return nil, err
		}
	}

	if spec.Unlock {
		if err := session.Unlock(ctx, spec.Target); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// convert finalizes a payload-bearing result, optionally translating
// the XML markup into a nested map.
func convert(result *Result, spec *model.NetconfSpec, payload string) (*Result, error) {
	result.Success = true
	if !spec.XMLConversion {
		result.Result = payload
		return result, nil
	}
	parsed, err := mxj.NewMapXml([]byte(payload))
	if err != nil {
		return nil, fmt.Errorf("converting XML payload: %w", err)
	}
	result.Result = map[string]interface{}(parsed)
	return result, nil
}
