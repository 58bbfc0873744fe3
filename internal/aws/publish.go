package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"
)

// IndexFile lists the archived files of one analysis.
const IndexFile = "index.json"

// Publisher archives the artifacts of one analysis under
// s3://bucket/prefix/<analysis id>/.
type Publisher struct {
	store  Store
	bucket string
	prefix string
	now    func() time.Time
}

func NewPublisher(store Store, bucket, prefix string) *Publisher {
	return &Publisher{store: store, bucket: bucket, prefix: prefix, now: time.Now}
}

// Artifact is one file to publish. Data is uploaded when set, otherwise the
// local file at Path.
type Artifact struct {
	Name string
	Data []byte
	Path string
}

// PublishResult holds the S3 URIs of the published artifacts, index last.
type PublishResult struct {
	Account string
	URIs    []string
}

type index struct {
	ID          string            `json:"id"`
	Account     string            `json:"account"`
	PublishedAt time.Time         `json:"published_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Files       []string          `json:"files"`
}

// Publish checks credentials, replaces any earlier upload of the analysis
// and uploads every artifact followed by an index. meta is attached to each
// object as S3 user metadata.
func (p *Publisher) Publish(ctx context.Context, id string, meta map[string]string, artifacts []Artifact) (*PublishResult, error) {
	who, err := p.store.Identity(ctx)
	if err != nil {
		return nil, fmt.Errorf("verifying AWS credentials: %w", err)
	}

	objects := make([]Object, 0, len(artifacts)+1)
	idx := index{ID: id, Account: who.Account, PublishedAt: p.now().UTC(), Metadata: meta}
	base := path.Join(p.prefix, id)
	for _, a := range artifacts {
		name, body := a.Name, a.Data
		if name == "" {
			name = filepath.Base(a.Path)
		}
		if body == nil {
			if body, err = os.ReadFile(a.Path); err != nil {
				return nil, fmt.Errorf("reading %s: %w", a.Path, err)
			}
		}
		objects = append(objects, Object{Key: path.Join(base, name), Body: body, Metadata: meta})
		idx.Files = append(idx.Files, name)
	}

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return nil, err
	}
	objects = append(objects, Object{Key: path.Join(base, IndexFile), Body: data, Metadata: meta})

	if err := p.store.DeletePrefix(ctx, p.bucket, base+"/"); err != nil {
		return nil, fmt.Errorf("clearing previous upload: %w", err)
	}

	res := &PublishResult{Account: who.Account}
	for _, obj := range objects {
		if err := p.store.Put(ctx, p.bucket, obj); err != nil {
			return nil, err
		}
		res.URIs = append(res.URIs, fmt.Sprintf("s3://%s/%s", p.bucket, obj.Key))
	}
	return res, nil
}
