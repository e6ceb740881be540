// Package secret resolves OAuth client secrets and signing keys from
// SSM Parameter Store in production or from the environment in DEV_MODE.
package secret

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ErrNotSet is returned when a parameter has no value in the backend.
var ErrNotSet = errors.New("secret not set")

// SSMClient is the subset of *ssm.Client used by SSMResolver.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Resolver retrieves secret values by parameter name.
type Resolver interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SSMResolver reads SecureString parameters.
type SSMResolver struct {
	client SSMClient
}

func NewSSMResolver(client SSMClient) *SSMResolver {
	return &SSMResolver{client: client}
}

func (r *SSMResolver) GetSecret(ctx context.Context, name string) (string, error) {
	out, err := r.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("ssm get parameter %q: %w", name, err)
	}
	if out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
		return "", fmt.Errorf("ssm parameter %q: %w", name, ErrNotSet)
	}
	return *out.Parameter.Value, nil
}

// EnvResolver maps "/docpick/zoom-client-secret" to ZOOM_CLIENT_SECRET.
type EnvResolver struct {
	lookup func(string) (string, bool)
}

func NewEnvResolver() *EnvResolver {
	return &EnvResolver{lookup: os.LookupEnv}
}

func (r *EnvResolver) GetSecret(_ context.Context, name string) (string, error) {
	key := EnvName(name)
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return "", fmt.Errorf("env %s (param %q): %w", key, name, ErrNotSet)
	}
	return v, nil
}

// EnvName converts a parameter path to its environment variable name:
// the last segment, uppercased, hyphens replaced with underscores.
func EnvName(name string) string {
	last := name[strings.LastIndex(name, "/")+1:]
	return strings.ToUpper(strings.ReplaceAll(last, "-", "_"))
}

// Cached memoizes successful lookups. Failures are not cached so a
// parameter created after startup is picked up on the next call.
type Cached struct {
	next Resolver

	mu     sync.RWMutex
	values map[string]string
}

func NewCached(next Resolver) *Cached {
	return &Cached{next: next, values: make(map[string]string)}
}

func (c *Cached) GetSecret(ctx context.Context, name string) (string, error) {
	c.mu.RLock()
	v, ok := c.values[name]
	c.mu.RUnlock()
	if ok {
		return v, nil
	}

	v, err := c.next.GetSecret(ctx, name)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.values[name] = v
	c.mu.Unlock()
	return v, nil
}

// Lazy returns a func that resolves name on first use. Connectors hold it
// so a missing optional secret only fails the provider that needs it.
func Lazy(r Resolver, name string) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		if name == "" {
			return "", nil
		}
		return r.GetSecret(ctx, name)
	}
}
