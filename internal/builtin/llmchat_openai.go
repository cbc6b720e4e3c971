package builtin

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tolgayilmaz86/NerveMind-sub000/internal/domain"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/domain/xerrors"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/interp"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/registry"
)

// LLMChatOpenAIExecutor sends node.Parameters["prompt"] (after {{ }}
// interpolation against the current item) to the OpenAI chat completion
// API and emits the trimmed reply under "reply".
//
// Grounded on the teacher's OpenAICompletionExecutor (node_executors.go):
// same model/temperature/maxTokens parameters, with the API key taken
// from the node's credential ref or else its apiKey parameter, adapted
// from execCtx.SetVariable(cfg.OutputKey, content) to returning the
// result as an output item, since this executor has no direct variable-
// store access (only the scheduler writes execution variables).
type LLMChatOpenAIExecutor struct {
	// NewClient constructs the OpenAI client for a resolved API key; a
	// field (not a package func call) so tests can substitute a fake.
	NewClient func(apiKey string) *openai.Client
}

func NewLLMChatOpenAIExecutor() *LLMChatOpenAIExecutor {
	return &LLMChatOpenAIExecutor{NewClient: openai.NewClient}
}

func (LLMChatOpenAIExecutor) Type() string                { return "llmChat" }
func (LLMChatOpenAIExecutor) Category() registry.Category { return registry.CategoryAI }
func (LLMChatOpenAIExecutor) Handles() registry.HandleSet {
	return registry.HandleSet{Inputs: []string{domain.HandleMain}, Outputs: []string{domain.HandleMain}}
}
func (LLMChatOpenAIExecutor) IsTrigger() bool          { return false }
func (LLMChatOpenAIExecutor) SupportsLooping() bool    { return false }
func (LLMChatOpenAIExecutor) RequiresCredential() bool { return true }

func (e *LLMChatOpenAIExecutor) Execute(ctx context.Context, execCtx registry.ExecutionContext, req registry.ExecRequest) (registry.Result, error) {
	env := req.InputByHandle[domain.HandleMain]
	item := env.First()

	promptTemplate, _ := req.Node.Parameters["prompt"].(string)
	if promptTemplate == "" {
		return registry.Result{}, xerrors.NewConfigError(req.Node.ID, "prompt", "llmChat node requires a non-empty prompt")
	}
	model, _ := req.Node.Parameters["model"].(string)
	if model == "" {
		model = openai.GPT4o
	}
	temperature := floatParam(req.Node.Parameters, "temperature", 0.7)
	maxTokens := intParam(req.Node.Parameters, "maxTokens", 0)

	prompt, _, err := interp.Interpolate(promptTemplate, execCtx.Scope(req.Node, item))
	if err != nil {
		return registry.Result{}, xerrors.NewExecError(req.Node.ID, "interpolating prompt", err)
	}

	apiKey, err := e.resolveAPIKey(req.Node, execCtx)
	if err != nil {
		return registry.Result{}, err
	}

	client := e.NewClient(apiKey)
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:               model,
		Temperature:         float32(temperature),
		MaxCompletionTokens: maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return registry.Result{}, xerrors.NewExecError(req.Node.ID, "openai chat completion failed", err)
	}
	if len(resp.Choices) == 0 {
		return registry.Result{}, xerrors.NewExecError(req.Node.ID, "openai returned no choices", nil)
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	out := domain.Item{
		"reply": reply,
		"model": resp.Model,
		"usage": map[string]int{
			"promptTokens":     resp.Usage.PromptTokens,
			"completionTokens": resp.Usage.CompletionTokens,
		},
	}
	return registry.Result{Outputs: []registry.Output{{Handle: domain.HandleMain, Envelope: domain.NewEnvelope(out)}}}, nil
}

// resolveAPIKey tries node.CredentialRef by ID, then by name, through the
// credential vault, then node.Parameters["apiKey"]. It does not look up a
// provider-default credential from settings; when none of these yields a
// key it returns a ConfigError.
func (e *LLMChatOpenAIExecutor) resolveAPIKey(node domain.Node, execCtx registry.ExecutionContext) (string, error) {
	if node.CredentialRef != nil {
		if node.CredentialRef.ID != 0 {
			secret, err := execCtx.GetCredentialByID(node.CredentialRef.ID)
			if err == nil {
				return secret.Value, nil
			}
		}
		if node.CredentialRef.Name != "" {
			secret, err := execCtx.GetCredentialByName(node.CredentialRef.Name)
			if err == nil {
				return secret.Value, nil
			}
		}
	}
	if apiKey, _ := node.Parameters["apiKey"].(string); apiKey != "" {
		return apiKey, nil
	}
	return "", xerrors.NewConfigError(node.ID, "credentialId", fmt.Sprintf("llmChat node %q has no resolvable OpenAI credential", node.ID))
}
