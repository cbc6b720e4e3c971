package builtin

import (
	"net/http"
	"time"

	"github.com/tolgayilmaz86/NerveMind-sub000/internal/registry"
)

// RegisterAll registers every built-in trigger and action/data/AI
// executor into reg. Flow-control node types are handled by the
// scheduler directly and are never registered here.
func RegisterAll(reg *registry.Registry, connectTimeout, readTimeout time.Duration) error {
	if err := RegisterTriggers(reg); err != nil {
		return err
	}

	httpClient := &http.Client{Timeout: readTimeout}
	executors := []registry.Executor{
		NewHTTPRequestExecutor(httpClient, connectTimeout, readTimeout),
		NewLLMChatOpenAIExecutor(),
		CodeExecutor{},
		SetExecutor{},
		FilterExecutor{},
		SortExecutor{},
		ExecuteCommandExecutor{},
	}
	for _, e := range executors {
		if err := reg.Register(e); err != nil {
			return err
		}
	}
	return nil
}
