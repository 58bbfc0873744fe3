package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	vault "github.com/hashicorp/vault/api"
)

var secretPattern = regexp.MustCompile(`\$\{(ENV|VAULT|AWS_SM):([^}]+)\}`)

// SecretResolver expands ${ENV:NAME}, ${VAULT:path#key} and
// ${AWS_SM:name} or ${AWS_SM:name#key} references inside a value. Each
// Vault path and AWS secret is fetched once per resolver.
type SecretResolver struct {
	// ReadVault returns the data of a Vault secret.
	ReadVault func(ctx context.Context, path string) (map[string]any, error)
	// ReadAWSSecret returns the string value of an AWS Secrets Manager secret.
	ReadAWSSecret func(ctx context.Context, name string) (string, error)

	vaultCache map[string]map[string]any
	awsCache   map[string]string
}

// NewSecretResolver returns a resolver backed by the Vault address and
// token in VAULT_ADDR/VAULT_TOKEN and the default AWS credential chain.
func NewSecretResolver() *SecretResolver {
	return &SecretResolver{
		ReadVault:     readVault,
		ReadAWSSecret: readAWSSecret,
	}
}

// Resolve replaces every secret reference in val. Values without
// references are returned unchanged.
func (r *SecretResolver) Resolve(ctx context.Context, val string) (string, error) {
	matches := secretPattern.FindAllStringSubmatchIndex(val, -1)
	if matches == nil {
		return val, nil
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		provider, ref := val[m[2]:m[3]], val[m[4]:m[5]]
		secret, err := r.lookup(ctx, provider, ref)
		if err != nil {
			return "", err
		}
		b.WriteString(val[last:m[0]])
		b.WriteString(secret)
		last = m[1]
	}
	b.WriteString(val[last:])
	return b.String(), nil
}

func (r *SecretResolver) lookup(ctx context.Context, provider, ref string) (string, error) {
	switch provider {
	case "ENV":
		v := os.Getenv(ref)
		if v == "" {
			return "", fmt.Errorf("environment variable %s not set", ref)
		}
		return v, nil
	case "VAULT":
		return r.vault(ctx, ref)
	case "AWS_SM":
		return r.awsSecret(ctx, ref)
	default:
		return "", fmt.Errorf("unknown secrets provider: %s", provider)
	}
}

func (r *SecretResolver) vault(ctx context.Context, ref string) (string, error) {
	path, key, ok := strings.Cut(ref, "#")
	if !ok || key == "" {
		return "", fmt.Errorf("invalid Vault reference %q: expected path#key", ref)
	}

	data, cached := r.vaultCache[path]
	if !cached {
		var err error
		if data, err = r.ReadVault(ctx, path); err != nil {
			return "", err
		}
		if r.vaultCache == nil {
			r.vaultCache = make(map[string]map[string]any)
		}
		r.vaultCache[path] = data
	}

	v, ok := data[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in Vault secret at %s", key, path)
	}
	return stringValue(v), nil
}

func (r *SecretResolver) awsSecret(ctx context.Context, ref string) (string, error) {
	name, key, hasKey := strings.Cut(ref, "#")

	raw, cached := r.awsCache[name]
	if !cached {
		var err error
		if raw, err = r.ReadAWSSecret(ctx, name); err != nil {
			return "", err
		}
		if r.awsCache == nil {
			r.awsCache = make(map[string]string)
		}
		r.awsCache[name] = raw
	}
	if !hasKey {
		return raw, nil
	}

	// Keyed references select one field of a JSON secret, the layout RDS
	// uses for its managed credentials.
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return "", fmt.Errorf("secret %q is not a JSON object: %w", name, err)
	}
	v, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in secret %q", key, name)
	}
	return stringValue(v), nil
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func readVault(ctx context.Context, path string) (map[string]any, error) {
	if os.Getenv("VAULT_ADDR") == "" {
		return nil, fmt.Errorf("VAULT_ADDR environment variable not set")
	}
	token := os.Getenv("VAULT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("VAULT_TOKEN environment variable not set")
	}

	client, err := vault.NewClient(vault.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("creating Vault client: %w", err)
	}
	client.SetToken(token)

	secret, err := client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("reading Vault secret at %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no secret found at %s", path)
	}

	// KV v2 nests the fields under "data".
	if inner, ok := secret.Data["data"].(map[string]any); ok {
		return inner, nil
	}
	return secret.Data, nil
}

func readAWSSecret(ctx context.Context, name string) (string, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("loading AWS config: %w", err)
	}

	out, err := secretsmanager.NewFromConfig(cfg).GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("getting secret %q: %w", name, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %q has no string value", name)
	}
	return *out.SecretString, nil
}
