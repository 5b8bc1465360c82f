package taskqueue

import (
	"context"
	"fmt"
)

// ScriptFunc is a symbolic function a SCRIPT task may invoke. Functions
// are registered by name at init — the compile-time replacement for
// dynamic import.
type ScriptFunc func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error)

// ScriptRegistry maps symbolic function name -> ScriptFunc.
type ScriptRegistry struct {
	funcs map[string]ScriptFunc
}

// NewScriptRegistry builds an empty ScriptRegistry.
func NewScriptRegistry() *ScriptRegistry {
	return &ScriptRegistry{funcs: make(map[string]ScriptFunc)}
}

// Register adds a named function.
func (r *ScriptRegistry) Register(name string, fn ScriptFunc) {
	r.funcs[name] = fn
}

// ScriptHandler builds the SCRIPT task-type Handler: invoke a declared
// function by symbolic name with args/kwargs.
func ScriptHandler(scripts *ScriptRegistry) Handler {
	return func(ctx context.Context, t Task) (map[string]interface{}, error) {
		name, _ := t.Payload["function"].(string)
		fn, ok := scripts.funcs[name]
		if !ok {
			return nil, fmt.Errorf("taskqueue: no script function registered as %q", name)
		}
		args, _ := t.Payload["args"].(map[string]interface{})
		return fn(ctx, args)
	}
}

// ModelGateway delegates a completion request to an external model
// gateway.
type ModelGateway interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// AIReasoningHandler builds the AI_REASONING handler.
func AIReasoningHandler(gw ModelGateway) Handler {
	return func(ctx context.Context, t Task) (map[string]interface{}, error) {
		prompt, _ := t.Payload["prompt"].(string)
		completion, err := gw.Complete(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("ai_reasoning: %w", err)
		}
		return map[string]interface{}{"completion": completion}, nil
	}
}

// CodeGenerator produces source from a prompt, for the CODE_GENERATION
// route, which then parks for human review rather than applying the
// result automatically.
type CodeGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// CodeGenerationHandler generates code, then requests human review via
// the queue — it never completes the task itself.
func CodeGenerationHandler(queue Queue, gen CodeGenerator) Handler {
	return func(ctx context.Context, t Task) (map[string]interface{}, error) {
		prompt, _ := t.Payload["prompt"].(string)
		code, err := gen.Generate(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("code_generation: %w", err)
		}
		if _, err := queue.RequestHumanInput(ctx, t.ID, HumanInputRequest{
			Prompt: code,
			Kind:   "code_review",
		}); err != nil {
			return nil, fmt.Errorf("code_generation: park for human review: %w", err)
		}
		return map[string]interface{}{"generated_code": code, "parked": true}, nil
	}
}

// EmailSender is the out-of-scope notification transport collaborator
//.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// EmailHandler builds the EMAIL task-type handler.
func EmailHandler(sender EmailSender) Handler {
	return func(ctx context.Context, t Task) (map[string]interface{}, error) {
		to, _ := t.Payload["to"].(string)
		subject, _ := t.Payload["subject"].(string)
		body, _ := t.Payload["body"].(string)
		if err := sender.Send(ctx, to, subject, body); err != nil {
			return nil, fmt.Errorf("email: %w", err)
		}
		return map[string]interface{}{"sent": true}, nil
	}
}

// HumanInputHandler parks the task immediately.8 ("the
// latter parks the task immediately").
func HumanInputHandler(queue Queue) Handler {
	return func(ctx context.Context, t Task) (map[string]interface{}, error) {
		prompt, _ := t.Payload["prompt"].(string)
		kind, _ := t.Payload["kind"].(string)
		if kind == "" {
			kind = "free_text"
		}
		if _, err := queue.RequestHumanInput(ctx, t.ID, HumanInputRequest{Prompt: prompt, Kind: kind}); err != nil {
			return nil, fmt.Errorf("human_input: %w", err)
		}
		return map[string]interface{}{"parked": true}, nil
	}
}
