package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddessentials/odd-ai-reviewers/internal/errs"
)

func TestResolveProvider_PrecedenceOrder(t *testing.T) {
	assert.Equal(t, ProviderAzure, ResolveProvider(ProviderAzure, Env{}, true), "explicit config wins over everything")

	env := Env{EnvAnthropicKey: "k", EnvOpenAIKey: "k2"}
	assert.Equal(t, ProviderAnthropic, ResolveProvider(ProviderNone, env, true), "anthropic key beats openai key")

	azureEnv := Env{
		EnvAzureKey: "k", EnvAzureEndpoint: "https://x", EnvAzureDeployment: "d",
		EnvOpenAIKey: "k2",
	}
	assert.Equal(t, ProviderAzure, ResolveProvider(ProviderNone, azureEnv, true), "complete azure bundle beats openai key")
	assert.Equal(t, ProviderOpenAI, ResolveProvider(ProviderNone, azureEnv, false), "azure bundle ignored when agent isn't azure-capable")

	assert.Equal(t, ProviderOpenAI, ResolveProvider(ProviderNone, Env{EnvOpenAIKey: "k"}, true))
	assert.Equal(t, ProviderNone, ResolveProvider(ProviderNone, Env{}, true))
}

func TestHasCompleteAzureBundle_RequiresAllThreeKeys(t *testing.T) {
	assert.False(t, hasCompleteAzureBundle(Env{EnvAzureKey: "k"}))
	assert.False(t, hasCompleteAzureBundle(Env{EnvAzureKey: "k", EnvAzureEndpoint: "e"}))
	assert.True(t, hasCompleteAzureBundle(Env{EnvAzureKey: "k", EnvAzureEndpoint: "e", EnvAzureDeployment: "d"}))
}

func TestCheckLegacyAliases_HardFailsOnAnyLegacyKey(t *testing.T) {
	assert.NoError(t, CheckLegacyAliases(Env{EnvOpenAIKey: "k"}))

	err := CheckLegacyAliases(Env{"OPENAI_MODEL": "gpt-4"})
	require.Error(t, err)
	var pe *errs.PreflightError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Reason, EnvModel)
}

func TestBuildAgentEnv_StripsHostingTokensAndInjectsLocale(t *testing.T) {
	env := Env{EnvGitHubToken: "secret", "SYSTEM_ACCESSTOKEN": "ado-secret", "GITLAB_TOKEN": "gl-secret", EnvOpenAIKey: "k"}
	out := BuildAgentEnv(env)
	for _, key := range []string{EnvGitHubToken, "SYSTEM_ACCESSTOKEN", "GITLAB_TOKEN"} {
		_, hasToken := out[key]
		assert.False(t, hasToken, key)
	}
	assert.Equal(t, "k", out[EnvOpenAIKey])
	assert.Equal(t, "en_US.UTF-8", out["LANG"])
	assert.Equal(t, "en_US.UTF-8", out["LC_ALL"])
}
