package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"

	"workloop/internal/plan"
)

const (
	defaultPrefix  = "plans/"
	objectExt      = ".json"
	updatedAtMeta  = "Updated-At"
	noSuchKeyError = "NoSuchKey"
)

// Object stores plans as JSON objects in an S3-compatible bucket.
type Object struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewObject connects to cfg.Endpoint and makes sure cfg.Bucket exists.
func NewObject(ctx context.Context, cfg Config) (*Object, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 store needs an endpoint and a bucket")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, serr.Wrap(err, "failed to create object store client")
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, serr.Wrap(err, "failed to check plan bucket")
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, serr.Wrap(err, "failed to create plan bucket")
		}
		logger.Info("created plan bucket", "bucket", cfg.Bucket)
	}
	return &Object{client: client, bucket: cfg.Bucket, prefix: objectPrefix(cfg.Prefix)}, nil
}

func objectPrefix(prefix string) string {
	if prefix == "" {
		return defaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}

func (o *Object) key(id string) string {
	return o.prefix + id + objectExt
}

func (o *Object) Save(ctx context.Context, p *plan.Plan) error {
	if err := validID(p.ID); err != nil {
		return err
	}
	if stored, ok := o.storedVersion(ctx, p.ID); ok && stale(stored, p.UpdatedAt) {
		logger.Debug("skipping stale plan write", "plan_id", p.ID)
		return nil
	}

	body, err := json.Marshal(p)
	if err != nil {
		return serr.Wrap(err, "failed to marshal plan")
	}
	_, err = o.client.PutObject(ctx, o.bucket, o.key(p.ID), bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType:  "application/json",
		UserMetadata: map[string]string{updatedAtMeta: strconv.FormatInt(p.UpdatedAt.UnixNano(), 10)},
	})
	if err != nil {
		return serr.Wrap(err, "failed to put plan object")
	}
	return nil
}

// storedVersion reads the UpdatedAt recorded in the object's metadata.
func (o *Object) storedVersion(ctx context.Context, id string) (time.Time, bool) {
	info, err := o.client.StatObject(ctx, o.bucket, o.key(id), minio.StatObjectOptions{})
	if err != nil {
		return time.Time{}, false
	}
	return versionFromMeta(info.UserMetadata)
}

func versionFromMeta(meta map[string]string) (time.Time, bool) {
	for k, v := range meta {
		if !strings.EqualFold(strings.TrimPrefix(strings.ToLower(k), "x-amz-meta-"), updatedAtMeta) {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		return time.Unix(0, n), true
	}
	return time.Time{}, false
}

func (o *Object) Load(ctx context.Context, id string) (*plan.Plan, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	obj, err := o.client.GetObject(ctx, o.bucket, o.key(id), minio.GetObjectOptions{})
	if err != nil {
		return nil, o.objectErr(err, id, "failed to get plan object")
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, o.objectErr(err, id, "failed to read plan object")
	}
	var p plan.Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, serr.Wrap(err, "failed to parse plan")
	}
	return &p, nil
}

func (o *Object) objectErr(err error, id, msg string) error {
	if minio.ToErrorResponse(err).Code == noSuchKeyError {
		return notFound(id)
	}
	return serr.Wrap(err, msg)
}

func (o *Object) List(ctx context.Context) ([]string, error) {
	var ids []string
	for info := range o.client.ListObjects(ctx, o.bucket, minio.ListObjectsOptions{Prefix: o.prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, serr.Wrap(info.Err, "failed to list plan objects")
		}
		name := strings.TrimPrefix(info.Key, o.prefix)
		if strings.Contains(name, "/") || !strings.HasSuffix(name, objectExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, objectExt))
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes the plan object. S3 deletes are idempotent, so a missing
// object is detected with a stat first.
func (o *Object) Delete(ctx context.Context, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	if _, err := o.client.StatObject(ctx, o.bucket, o.key(id), minio.StatObjectOptions{}); err != nil {
		return o.objectErr(err, id, "failed to stat plan object")
	}
	if err := o.client.RemoveObject(ctx, o.bucket, o.key(id), minio.RemoveObjectOptions{}); err != nil {
		return serr.Wrap(err, "failed to remove plan object")
	}
	return nil
}
