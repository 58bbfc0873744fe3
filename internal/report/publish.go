package report

import (
	"context"
	"fmt"
	"strconv"

	"github.com/schemaguard/schemaguard/internal/aws"
	"github.com/schemaguard/schemaguard/internal/config"
)

// Publish uploads the written report files and any extra artifacts to the
// configured S3 bucket. It does nothing when no bucket is configured.
func Publish(ctx context.Context, store aws.Store, cfg config.ReportConfig, rep *AnalysisReport, paths []string, extra ...aws.Artifact) (*aws.PublishResult, error) {
	if cfg.S3Bucket == "" {
		return nil, nil
	}
	artifacts := make([]aws.Artifact, 0, len(paths)+len(extra))
	for _, p := range paths {
		artifacts = append(artifacts, aws.Artifact{Path: p})
	}
	artifacts = append(artifacts, extra...)

	res, err := aws.NewPublisher(store, cfg.S3Bucket, cfg.S3Prefix).Publish(ctx, rep.ID, metadata(rep), artifacts)
	if err != nil {
		return nil, fmt.Errorf("publishing report %s: %w", rep.ID, err)
	}
	return res, nil
}

func metadata(rep *AnalysisReport) map[string]string {
	return map[string]string{
		"analysis-id": rep.ID,
		"risk":        rep.Summary.Risk.String(),
		"operations":  strconv.Itoa(rep.Summary.Operations),
	}
}
