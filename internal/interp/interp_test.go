package interp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tolgayilmaz86/NerveMind-sub000/internal/domain"
)

func TestInterpolateSimpleVariable(t *testing.T) {
	scope := Scope{ExecutionVars: map[string]any{"name": "London", "temperature": 22}}

	out, secrets, err := Interpolate("city={{name}} temp={{temperature}}", scope)
	require.NoError(t, err)
	assert.Equal(t, "city=London temp=22", out)
	assert.Empty(t, secrets)
}

func TestInterpolateMissingPathIsEmptyString(t *testing.T) {
	out, _, err := Interpolate("hello {{nope}}", Scope{})
	require.NoError(t, err)
	assert.Equal(t, "hello ", out)
}

func TestResolveMissingPathIsNil(t *testing.T) {
	v, _, found := Resolve("nope", Scope{})
	assert.False(t, found)
	assert.Nil(t, v)
}

func TestResolveDottedAndBracketPaths(t *testing.T) {
	scope := Scope{Item: domain.Item{
		"user": map[string]any{
			"tags": []any{"a", "b", "c"},
			"a.b":  "dotted-key",
		},
	}}

	v, _, found := Resolve("user.tags[1]", scope)
	require.True(t, found)
	assert.Equal(t, "b", v)

	v, _, found = Resolve(`user["a.b"]`, scope)
	require.True(t, found)
	assert.Equal(t, "dotted-key", v)
}

func TestCredentialAliasWinsOverVariables(t *testing.T) {
	scope := Scope{
		ResolveCredential: func(alias string) (domain.Secret, bool) {
			if alias == "OPENAI_API_KEY" {
				return domain.NewSecret(1, alias, "sk-secret"), true
			}
			return domain.Secret{}, false
		},
		ExecutionVars: map[string]any{"OPENAI_API_KEY": "not-the-secret"},
	}

	v, secret, found := Resolve("OPENAI_API_KEY", scope)
	require.True(t, found)
	assert.True(t, secret)
	assert.Equal(t, "sk-secret", v)
}

func TestNodeOutputCacheLowerPrecedenceThanVariables(t *testing.T) {
	scope := Scope{
		ExecutionVars: map[string]any{"result": "from-variable"},
		NodeOutputs: map[string]domain.Envelope{
			"result": domain.NewEnvelope(domain.Item{"x": 1}),
		},
	}
	v, _, found := Resolve("result", scope)
	require.True(t, found)
	assert.Equal(t, "from-variable", v)
}

func TestValidateTemplateRejectsUnbalancedBraces(t *testing.T) {
	err := ValidateTemplate("node1", "url", "{{missing_close")
	require.Error(t, err)
}
