// Archiver ships verified batches of the certificate ledger to S3-compatible storage.
package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bturcanu/certproof/pkg/archiver"
	"github.com/bturcanu/certproof/pkg/config"
	"github.com/bturcanu/certproof/pkg/registry"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type minioUploader struct {
	client *minio.Client
	bucket string
}

func (m minioUploader) Upload(ctx context.Context, key string, body []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := pgxpool.New(ctx, buildPostgresDSN())
	if err != nil {
		log.Error("postgres connect failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	minioClient, err := minio.New(config.EnvOr("ARCHIVE_S3_ENDPOINT", "localhost:9000"), &minio.Options{
		Creds:  credentials.NewStaticV4(config.EnvOr("ARCHIVE_S3_ACCESS_KEY", "minioadmin"), config.EnvOr("ARCHIVE_S3_SECRET_KEY", "minioadmin"), ""),
		Secure: config.EnvOrBool("ARCHIVE_S3_SECURE", false),
	})
	if err != nil {
		log.Error("minio init failed", "error", err)
		os.Exit(1)
	}

	bucket := config.EnvOr("ARCHIVE_S3_BUCKET", "certproof-ledger")
	exists, err := minioClient.BucketExists(ctx, bucket)
	if err != nil {
		log.Error("bucket check failed", "bucket", bucket, "error", err)
		os.Exit(1)
	}
	if !exists {
		if err := minioClient.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			log.Error("bucket create failed", "bucket", bucket, "error", err)
			os.Exit(1)
		}
		log.Info("created archive bucket", "bucket", bucket)
	}

	store := registry.NewPostgresStore(pool)
	svc := archiver.New(store, minioUploader{client: minioClient, bucket: bucket})
	svc.SetBatchSize(config.EnvOrInt("ARCHIVER_BATCH_SIZE", archiver.DefaultBatchSize))

	runOnce := config.EnvOrBool("ARCHIVER_RUN_ONCE", true)
	interval := time.Duration(config.EnvOrInt("ARCHIVER_INTERVAL_SEC", 300)) * time.Second

	run := func() {
		keys, err := svc.ArchivePending(ctx)
		for _, key := range keys {
			log.Info("archived ledger bundle", "key", key)
		}
		if err != nil {
			log.Error("archive ledger failed", "error", err)
		}
	}

	run()
	if runOnce {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

func buildPostgresDSN() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(config.EnvOr("POSTGRES_USER", "certproof"), config.EnvOr("POSTGRES_PASSWORD", "changeme")),
		Host:     net.JoinHostPort(config.EnvOr("POSTGRES_HOST", "localhost"), config.EnvOr("POSTGRES_PORT", "5432")),
		Path:     config.EnvOr("POSTGRES_DB", "certproof"),
		RawQuery: "sslmode=" + url.QueryEscape(config.EnvOr("POSTGRES_SSLMODE", "disable")),
	}
	return u.String()
}
