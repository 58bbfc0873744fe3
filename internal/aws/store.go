package aws

import (
	"context"
	"path"
)

// Store is the object storage used to archive analyses.
type Store interface {
	Identity(ctx context.Context) (*Identity, error)
	Put(ctx context.Context, bucket string, obj Object) error
	DeletePrefix(ctx context.Context, bucket, prefix string) error
}

// Identity is the AWS principal the store runs as.
type Identity struct {
	Account string
	ARN     string
	UserID  string
}

// Object is one archived file.
type Object struct {
	Key         string
	Body        []byte
	ContentType string
	Metadata    map[string]string
}

func contentType(key string) string {
	switch path.Ext(key) {
	case ".json":
		return "application/json"
	case ".md":
		return "text/markdown; charset=utf-8"
	case ".yaml", ".yml":
		return "application/yaml"
	case ".sql", ".txt":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
