package config

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError reports which phase of LoadConfig failed.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	msg := "config " + strings.ToLower(string(e.Type)) + ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// A variable named X_SSM_PARAM is a pointer: its value is the reference the
// SecretProvider resolves into X. GITHUB_TOKEN_SSM_PARAM=/ci/github_token
// fills GITHUB_TOKEN.
const secretPointerSuffix = "_SSM_PARAM"

// localEnv is the APP_ENV value that skips pointer resolution and selects
// stub clients.
const localEnv = "local"

// secretTimeout bounds pointer resolution as a whole.
const secretTimeout = 30 * time.Second

// environment is the process environment as the loader sees it.
type environment interface {
	LookupEnv(key string) (string, bool)
	Setenv(key, value string) error
	Environ() []string
}

type osEnvironment struct{}

func (osEnvironment) LookupEnv(key string) (string, bool) { return os.LookupEnv(key) }
func (osEnvironment) Setenv(key, value string) error      { return os.Setenv(key, value) }
func (osEnvironment) Environ() []string                   { return os.Environ() }

// LoadConfig reads the step configuration from the runner environment.
//
// A .env file in the working directory fills gaps but never overrides the
// environment. Outside APP_ENV=local, secret pointers are resolved through
// provider first; provider may be nil when no pointers are set. The process
// clock is switched to UTC so forecast timestamps compare cleanly.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return load(provider, osEnvironment{})
}

func load(provider SecretProvider, env environment) (*Config, error) {
	time.Local = time.UTC
	_ = godotenv.Load()

	if appEnv, _ := env.LookupEnv("APP_ENV"); appEnv != localEnv {
		ctx, cancel := context.WithTimeout(context.Background(), secretTimeout)
		defer cancel()
		if err := resolveSecretPointers(ctx, provider, env); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, &ConfigError{Type: ErrParsing, Message: "reading environment", Err: err}
	}
	cfg.Build = NewBuildInfo()

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validateConfig runs the struct tag rules, then the rules that span fields.
func validateConfig(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return &ConfigError{Type: ErrValidation, Message: "invalid configuration", Err: err}
	}

	owner, repo, ok := strings.Cut(cfg.GitHub.Repository, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return &ConfigError{
			Type:    ErrValidation,
			Message: fmt.Sprintf("GITHUB_REPOSITORY must be owner/repo, got %q", cfg.GitHub.Repository),
		}
	}

	if !cfg.UseStubs() && !cfg.GitHub.Token.IsSet() {
		return &ConfigError{
			Type:    ErrMissingEnv,
			Message: "GITHUB_TOKEN is required outside local and test mode",
		}
	}
	return nil
}

// secretPointer binds a target variable to the reference that fills it.
type secretPointer struct {
	target string
	ref    string
}

// pendingSecretPointers lists the pointers whose target is still unset,
// ordered by target. A target already present in the environment (directly
// or from .env) wins over its pointer.
func pendingSecretPointers(env environment) []secretPointer {
	var pending []secretPointer
	for _, entry := range env.Environ() {
		key, ref, _ := strings.Cut(entry, "=")
		target, isPointer := strings.CutSuffix(key, secretPointerSuffix)
		if !isPointer || target == "" || ref == "" {
			continue
		}
		if _, set := env.LookupEnv(target); set {
			continue
		}
		pending = append(pending, secretPointer{target: target, ref: ref})
	}
	slices.SortFunc(pending, func(a, b secretPointer) int { return strings.Compare(a.target, b.target) })
	return pending
}

// resolveSecretPointers fetches every pending pointer in one provider call
// and exports the values. A reference the provider cannot resolve fails the
// load and names the targets left empty.
func resolveSecretPointers(ctx context.Context, provider SecretProvider, env environment) error {
	pending := pendingSecretPointers(env)
	if len(pending) == 0 {
		return nil
	}

	targets := make([]string, len(pending))
	refs := make([]string, len(pending))
	for i, p := range pending {
		targets[i] = p.target
		refs[i] = p.ref
	}

	if provider == nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "no secret provider to resolve " + strings.Join(targets, ", "),
		}
	}

	values, err := provider.GetParametersBatch(ctx, refs)
	if err != nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "resolving " + strings.Join(targets, ", "),
			Err:     err,
		}
	}

	var unresolved []string
	for _, p := range pending {
		value, ok := values[p.ref]
		if !ok {
			unresolved = append(unresolved, p.target)
			continue
		}
		if err := env.Setenv(p.target, value); err != nil {
			return &ConfigError{Type: ErrSSMResolution, Message: "exporting " + p.target, Err: err}
		}
	}
	if len(unresolved) > 0 {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "no value found for " + strings.Join(unresolved, ", "),
		}
	}
	return nil
}
