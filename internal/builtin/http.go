package builtin

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tolgayilmaz86/NerveMind-sub000/internal/domain"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/domain/xerrors"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/interp"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/registry"
)

// HTTPClient is a minimal HTTP client seam for testing, matching the
// teacher's node/builtin.HTTPClient.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPRequestExecutor performs one HTTP call per input item, interpolating
// {{ }} templates in the URL, headers and body against the node's scope.
// Grounded on the teacher's node/builtin.HTTPRequestNode[T], generalized
// from a generic per-node adapter to the uniform item-at-a-time Execute
// contract and dropping the compile-time response-adapter type param in
// favor of a runtime "json"|"text"|"raw" responseFormat parameter.
type HTTPRequestExecutor struct {
	Client         HTTPClient
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

func NewHTTPRequestExecutor(client HTTPClient, connectTimeout, readTimeout time.Duration) *HTTPRequestExecutor {
	if client == nil {
		client = &http.Client{Timeout: readTimeout}
	}
	return &HTTPRequestExecutor{Client: client, ConnectTimeout: connectTimeout, ReadTimeout: readTimeout}
}

func (HTTPRequestExecutor) Type() string                { return "httpRequest" }
func (HTTPRequestExecutor) Category() registry.Category { return registry.CategoryIntegration }
func (HTTPRequestExecutor) Handles() registry.HandleSet {
	return registry.HandleSet{Inputs: []string{domain.HandleMain}, Outputs: []string{domain.HandleMain}}
}
func (HTTPRequestExecutor) IsTrigger() bool       { return false }
func (HTTPRequestExecutor) SupportsLooping() bool { return false }

// RequiresCredential is false: a credentialId/credentialName is attached
// when the node carries one (see attachCredential), but most HTTP calls
// target unauthenticated endpoints and the node is runnable without one.
func (HTTPRequestExecutor) RequiresCredential() bool { return false }

func (e *HTTPRequestExecutor) Execute(ctx context.Context, execCtx registry.ExecutionContext, req registry.ExecRequest) (registry.Result, error) {
	env := req.InputByHandle[domain.HandleMain]
	items := env.Items
	if len(items) == 0 {
		items = []domain.Item{{}}
	}

	method, _ := req.Node.Parameters["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	rawURL, _ := req.Node.Parameters["url"].(string)
	if rawURL == "" {
		return registry.Result{}, xerrors.NewConfigError(req.Node.ID, "url", "httpRequest node requires a non-empty url")
	}
	headerParams, _ := req.Node.Parameters["headers"].(map[string]any)
	bodyTemplate, _ := req.Node.Parameters["body"].(string)
	failOnStatus := boolParam(req.Node.Parameters, "failOnStatus", true)
	responseFormat, _ := req.Node.Parameters["responseFormat"].(string)
	if responseFormat == "" {
		responseFormat = "json"
	}

	out := make([]domain.Item, 0, len(items))
	for _, item := range items {
		scope := execCtx.Scope(req.Node, item)
		resolvedURL, _, err := interp.Interpolate(rawURL, scope)
		if err != nil {
			return registry.Result{}, xerrors.NewExecError(req.Node.ID, "interpolating url", err)
		}

		var body io.Reader
		if bodyTemplate != "" {
			resolvedBody, _, err := interp.Interpolate(bodyTemplate, scope)
			if err != nil {
				return registry.Result{}, xerrors.NewExecError(req.Node.ID, "interpolating body", err)
			}
			body = strings.NewReader(resolvedBody)
		}

		httpReq, err := http.NewRequestWithContext(ctx, method, resolvedURL, body)
		if err != nil {
			return registry.Result{}, xerrors.NewConfigError(req.Node.ID, "url", fmt.Sprintf("building request: %v", err))
		}
		for k, v := range headerParams {
			raw, _ := v.(string)
			resolved, _, err := interp.Interpolate(raw, scope)
			if err != nil {
				return registry.Result{}, xerrors.NewExecError(req.Node.ID, fmt.Sprintf("interpolating header %q", k), err)
			}
			httpReq.Header.Set(k, resolved)
		}
		if httpReq.Header.Get("Content-Type") == "" && body != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}

		if err := attachCredential(req.Node, scope, httpReq); err != nil {
			return registry.Result{}, err
		}

		resp, err := e.Client.Do(httpReq)
		if err != nil {
			return registry.Result{}, xerrors.NewExecError(req.Node.ID, "http request failed", err)
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return registry.Result{}, xerrors.NewExecError(req.Node.ID, "reading response body", readErr)
		}

		if failOnStatus && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
			return registry.Result{}, xerrors.NewExecError(req.Node.ID, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
		}

		resultItem := domain.Item{
			"statusCode": resp.StatusCode,
			"headers":    firstHeaderValues(resp.Header),
		}
		switch responseFormat {
		case "json":
			var decoded any
			if len(data) > 0 {
				if err := json.Unmarshal(data, &decoded); err != nil {
					return registry.Result{}, xerrors.NewExecError(req.Node.ID, "decoding json response", err)
				}
			}
			resultItem["body"] = decoded
		case "text":
			resultItem["body"] = string(data)
		default: // raw
			resultItem["body"] = data
		}
		out = append(out, resultItem)
	}

	return registry.Result{Outputs: []registry.Output{{Handle: domain.HandleMain, Envelope: domain.NewEnvelope(out...)}}}, nil
}

// attachCredential resolves node's CredentialRef (if any) through scope's
// credential resolver and attaches it to httpReq per spec §4.6: a plain
// "Authorization: Bearer …" header by default, "Basic base64(u:p)" when
// the node parameter authType is "basic" (credential value expected as
// "user:pass"), or a custom header when authType is "header" (the header
// name taken from authHeaderName, default "Authorization"). A node with
// no CredentialRef is left untouched.
func attachCredential(node domain.Node, scope interp.Scope, httpReq *http.Request) error {
	if node.CredentialRef == nil || scope.ResolveCredential == nil {
		return nil
	}
	secret, ok := scope.ResolveCredential("")
	if !ok {
		return xerrors.NewConfigError(node.ID, "credentialId", fmt.Sprintf("httpRequest node %q has no resolvable credential", node.ID))
	}

	authType, _ := node.Parameters["authType"].(string)
	switch authType {
	case "basic":
		httpReq.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(secret.Value)))
	case "header":
		headerName, _ := node.Parameters["authHeaderName"].(string)
		if headerName == "" {
			headerName = "Authorization"
		}
		httpReq.Header.Set(headerName, secret.Value)
	default: // "bearer" or unset
		httpReq.Header.Set("Authorization", "Bearer "+secret.Value)
	}
	return nil
}

func firstHeaderValues(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func boolParam(params map[string]any, key string, def bool) bool {
	v, ok := params[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}
