// Package writer exports assembled candle series as parquet files, either to
// a local directory or to S3.
package writer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	appconfig "restbridge/config"
	"restbridge/internal/metadata"
	"restbridge/logger"
	"restbridge/models"
)

// putter is the part of the S3 client the writer uses.
type putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type CandleWriter struct {
	cfg      *appconfig.Config
	s3       putter
	manifest *metadata.Manifest
	log      *logger.Log
	now      func() time.Time
}

// NewCandleWriter builds a writer for cfg. An S3 client is created only when
// storage.s3.enabled is set.
func NewCandleWriter(ctx context.Context, cfg *appconfig.Config) (*CandleWriter, error) {
	w := &CandleWriter{
		cfg:      cfg,
		manifest: metadata.NewManifest(filepath.Join(cfg.Export.Directory, "metadata"), "candles"),
		log:      logger.GetLogger(),
		now:      time.Now,
	}
	if !cfg.Storage.S3.Enabled {
		w.log.WithComponent("candle_writer").WithFields(logger.Fields{
			"directory": cfg.Export.Directory,
		}).Info("candle writer initialized for local export")
		return w, nil
	}

	client, err := newS3Client(ctx, cfg.Storage.S3)
	if err != nil {
		return nil, err
	}
	w.s3 = client
	w.log.WithComponent("candle_writer").WithFields(logger.Fields{
		"bucket":     cfg.Storage.S3.Bucket,
		"region":     cfg.Storage.S3.Region,
		"endpoint":   cfg.Storage.S3.Endpoint,
		"path_style": cfg.Storage.S3.PathStyle,
	}).Info("candle writer initialized for s3 export")
	return w, nil
}

func newS3Client(ctx context.Context, sc appconfig.S3Config) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(sc.Region),
	}
	if sc.AccessKeyID != "" && sc.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(sc.AccessKeyID, sc.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if sc.Endpoint != "" {
			o.BaseEndpoint = aws.String(sc.Endpoint)
		}
		o.UsePathStyle = sc.PathStyle
	}), nil
}

// objectKey builds "<prefix>/symbol=<sym>/period=<p>/<yyyymmdd>_<id>.parquet".
func objectKey(prefix, symbol, period string, at time.Time, id string) string {
	sym := strings.NewReplacer("/", "", " ", "").Replace(symbol)
	name := fmt.Sprintf("%s_%s.parquet", at.UTC().Format("20060102"), id)
	return path.Join(strings.Trim(prefix, "/"), "symbol="+sym, "period="+period, name)
}

// Write exports candles and returns where they went. An empty series writes
// nothing and returns "".
func (w *CandleWriter) Write(ctx context.Context, symbol, period string, candles []models.Candle) (string, error) {
	log := w.log.WithComponent("candle_writer").WithFields(logger.Fields{
		"symbol":  symbol,
		"period":  period,
		"candles": len(candles),
	})
	if len(candles) == 0 {
		log.Debug("no candles to export")
		return "", nil
	}

	start := time.Now()
	data, err := encode(candles, w.cfg.Export.Compression)
	if err != nil {
		log.WithError(err).Error("failed to create parquet file")
		return "", err
	}

	now := w.now()
	key := objectKey(w.cfg.Storage.S3.Prefix, symbol, period, now, uuid.NewString())

	var location string
	if w.s3 != nil {
		location, err = w.upload(ctx, key, data)
	} else {
		location, err = w.store(key, data)
	}
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"key": key}).Error("failed to export candles")
		return "", err
	}

	logger.LogPerformanceEntry(log, "candle_writer", "export", time.Since(start), logger.Fields{
		"location":  location,
		"file_size": len(data),
	})
	logger.LogDataFlowEntry(log, "history", "export", len(candles), "candle")

	mf := metadata.ExportFile{
		Location: location,
		Bytes:    int64(len(data)),
		Candles:  int64(len(candles)),
		Symbol:   symbol,
		Period:   period,
		From:     candles[0].StartDate,
		To:       candles[len(candles)-1].StartDate,
		Written:  now,
	}
	if err := w.manifest.Add(mf); err != nil {
		log.WithError(err).Warn("failed to update export manifest")
	}
	return location, nil
}

func (w *CandleWriter) store(key string, data []byte) (string, error) {
	p := filepath.Join(w.cfg.Export.Directory, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("write export file: %w", err)
	}
	return p, nil
}

func (w *CandleWriter) upload(ctx context.Context, key string, data []byte) (string, error) {
	bucket := w.cfg.Storage.S3.Bucket
	_, err := w.s3.PutObject(context.WithoutCancel(ctx), &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":       "parquet",
			"compression":        w.cfg.Export.Compression,
			"restbridge-version": w.cfg.Adapter.Version,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3 bucket %s: %w", bucket, err)
	}
	return fmt.Sprintf("s3://%s/%s", bucket, key), nil
}
