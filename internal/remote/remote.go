// Package remote pushes archive files to and pulls them from object
// storage buckets.
package remote

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/thanos-io/objstore"
	"github.com/thanos-io/objstore/client"
	"gopkg.in/yaml.v3"
)

// StorageType represents the type of object storage.
type StorageType string

const (
	// S3Storage represents Amazon S3 or compatible storage.
	S3Storage StorageType = "s3"
	// GCSStorage represents Google Cloud Storage.
	GCSStorage StorageType = "gcs"
	// FileStorage is a bucket backed by a local directory.
	FileStorage StorageType = "file"

	// CompressedExt is appended to objects compressed during upload.
	CompressedExt = ".zst"

	component = "flasharc"
)

// CompressionLevel represents the zstd level used for uploads.
type CompressionLevel int

const (
	// CompressionFastest is the fastest compression level.
	CompressionFastest CompressionLevel = 1
	// CompressionDefault is the default compression level.
	CompressionDefault CompressionLevel = 3
	// CompressionBetter is a better compression level.
	CompressionBetter CompressionLevel = 7
	// CompressionBest is the best compression level.
	CompressionBest CompressionLevel = 22
)

func (l CompressionLevel) encoderLevel() zstd.EncoderLevel {
	switch {
	case l <= CompressionFastest:
		return zstd.SpeedFastest
	case l >= CompressionBest:
		return zstd.SpeedBestCompression
	case l >= CompressionBetter:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedDefault
	}
}

// Config selects and configures a bucket.
type Config struct {
	Type StorageType

	S3Config  *S3Config
	GCSConfig *GCSConfig
	// Directory is the root of a FileStorage bucket.
	Directory string

	// Prefix is prepended to every object name.
	Prefix           string
	CompressionLevel CompressionLevel
}

// S3Config represents the configuration for S3 storage.
type S3Config struct {
	Endpoint       string
	AccessKey      string
	SecretKey      string
	Bucket         string
	Region         string
	Insecure       bool
	SignatureV2    bool
	ForcePathStyle bool
}

// GCSConfig represents the configuration for GCS storage.
type GCSConfig struct {
	Bucket         string
	ServiceAccount string
}

// Remote is an object storage client for archive files.
type Remote struct {
	bucket           objstore.Bucket
	logger           log.Logger
	prefix           string
	compressionLevel CompressionLevel
}

// ParseDestination parses scheme://bucket/prefix and returns the storage
// type, bucket and prefix. For file:// destinations the bucket is the
// directory path and the prefix is empty.
func ParseDestination(destination string) (StorageType, string, string, error) {
	u, err := url.Parse(destination)
	if err != nil {
		return "", "", "", errors.Wrap(err, "parse destination URL")
	}

	storageType := StorageType(u.Scheme)
	switch storageType {
	case FileStorage:
		dir := filepath.FromSlash(u.Host + u.Path)
		if dir == "" {
			return "", "", "", errors.New("invalid URL format, expected file:///directory")
		}
		return FileStorage, dir, "", nil
	case S3Storage, GCSStorage:
	case "":
		return "", "", "", errors.New("invalid URL format, expected scheme://bucket/prefix")
	default:
		return "", "", "", errors.Errorf("unsupported storage type: %s", storageType)
	}

	if u.Host == "" {
		return "", "", "", errors.New("invalid URL format, expected scheme://bucket/prefix")
	}
	return storageType, u.Host, strings.Trim(u.Path, "/"), nil
}

// New creates a client for the bucket described by config.
func New(ctx context.Context, config Config, logger log.Logger) (*Remote, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	conf, err := bucketConfig(config)
	if err != nil {
		return nil, err
	}
	if config.Type == FileStorage {
		if err := os.MkdirAll(config.Directory, 0o755); err != nil {
			return nil, errors.Wrap(err, "create bucket directory")
		}
	}
	bucket, err := client.NewBucket(logger, conf, component, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s bucket", config.Type)
	}

	compression := config.CompressionLevel
	if compression <= 0 {
		compression = CompressionDefault
	}
	r := &Remote{
		bucket:           bucket,
		logger:           log.With(logger, "component", "remote", "bucket", bucket.Name()),
		prefix:           strings.Trim(config.Prefix, "/"),
		compressionLevel: compression,
	}

	if err := r.checkBucket(ctx); err != nil {
		_ = bucket.Close()
		return nil, err
	}
	return r, nil
}

// bucketConfig renders config in the YAML form objstore's client factory
// expects.
func bucketConfig(config Config) ([]byte, error) {
	var (
		typ  string
		conf map[string]any
	)
	switch config.Type {
	case S3Storage:
		if config.S3Config == nil {
			return nil, errors.New("S3 configuration is required for S3 storage")
		}
		c := config.S3Config
		typ = "S3"
		conf = map[string]any{
			"bucket":             c.Bucket,
			"endpoint":           c.Endpoint,
			"access_key":         c.AccessKey,
			"secret_key":         c.SecretKey,
			"region":             c.Region,
			"insecure":           c.Insecure,
			"signature_version2": c.SignatureV2,
		}
		if c.ForcePathStyle {
			conf["bucket_lookup_type"] = "path"
		}
	case GCSStorage:
		if config.GCSConfig == nil {
			return nil, errors.New("GCS configuration is required for GCS storage")
		}
		typ = "GCS"
		conf = map[string]any{
			"bucket":          config.GCSConfig.Bucket,
			"service_account": config.GCSConfig.ServiceAccount,
		}
	case FileStorage:
		if config.Directory == "" {
			return nil, errors.New("directory is required for file storage")
		}
		typ = "FILESYSTEM"
		conf = map[string]any{"directory": config.Directory}
	default:
		return nil, errors.Errorf("unsupported storage type: %s", config.Type)
	}

	out, err := yaml.Marshal(map[string]any{"type": typ, "config": conf})
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %s config to YAML", typ)
	}
	return out, nil
}

// checkBucket probes the bucket so misconfiguration fails early.
func (r *Remote) checkBucket(ctx context.Context) error {
	_, err := r.bucket.Exists(ctx, r.ObjectName(".probe"))
	if err == nil {
		return nil
	}
	if r.bucket.IsAccessDeniedErr(err) {
		level.Debug(r.logger).Log("msg", "access denied when probing bucket, assuming it exists")
		return nil
	}
	return errors.Wrap(err, "check bucket")
}

// ConfigFromEnv builds a Config for a bucket using the S3_* and
// GOOGLE_APPLICATION_CREDENTIALS environment variables.
func ConfigFromEnv(storageType StorageType, bucket, prefix string) (Config, error) {
	config := Config{Type: storageType, Prefix: prefix}
	switch storageType {
	case S3Storage:
		config.S3Config = &S3Config{
			Bucket:         bucket,
			Endpoint:       os.Getenv("S3_ENDPOINT"),
			AccessKey:      os.Getenv("S3_ACCESS_KEY"),
			SecretKey:      os.Getenv("S3_SECRET_KEY"),
			Region:         os.Getenv("S3_REGION"),
			Insecure:       os.Getenv("S3_INSECURE") == "true",
			ForcePathStyle: os.Getenv("S3_FORCE_PATH_STYLE") == "true",
		}
	case GCSStorage:
		config.GCSConfig = &GCSConfig{
			Bucket:         bucket,
			ServiceAccount: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		}
	case FileStorage:
		config.Directory = bucket
	default:
		return Config{}, errors.Errorf("unsupported storage type: %s", storageType)
	}
	return config, nil
}

// NewFromDestination creates a client from a destination URL, taking
// credentials from the environment.
func NewFromDestination(ctx context.Context, destination string, logger log.Logger) (*Remote, error) {
	storageType, bucket, prefix, err := ParseDestination(destination)
	if err != nil {
		return nil, err
	}
	config, err := ConfigFromEnv(storageType, bucket, prefix)
	if err != nil {
		return nil, err
	}
	return New(ctx, config, logger)
}

// ObjectName places name under the client's prefix.
func (r *Remote) ObjectName(name string) string {
	return ObjectName(r.prefix, name)
}

// ObjectName joins a prefix and an object name.
func ObjectName(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// Upload copies the file at localPath to objectName, compressing it with
// zstd on the fly when compress is set. It returns the object name used,
// which carries CompressedExt when compressed.
func (r *Remote) Upload(ctx context.Context, localPath, objectName string, compress bool) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", errors.Wrap(err, "open local file")
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return "", errors.Wrap(err, "stat local file")
	}
	level.Info(r.logger).Log("msg", "starting upload", "file", localPath, "object", objectName, "size", fileInfo.Size())

	var reader io.Reader = file
	if compress {
		pr, pw := io.Pipe()
		encoder, err := zstd.NewWriter(pw, zstd.WithEncoderLevel(r.compressionLevel.encoderLevel()))
		if err != nil {
			return "", errors.Wrap(err, "create zstd encoder")
		}
		go func() {
			if _, err := io.Copy(encoder, file); err != nil {
				_ = pw.CloseWithError(err)
				return
			}
			if err := encoder.Close(); err != nil {
				_ = pw.CloseWithError(err)
				return
			}
			_ = pw.Close()
		}()
		defer pr.Close()
		reader = pr
		objectName += CompressedExt
	}

	startTime := time.Now()
	if err := r.bucket.Upload(ctx, objectName, reader); err != nil {
		return "", errors.Wrap(err, "upload data")
	}

	level.Info(r.logger).Log(
		"msg", "upload complete",
		"object", objectName,
		"size", fileInfo.Size(),
		"duration", time.Since(startTime),
	)
	return objectName, nil
}

// Download copies objectName to localPath, decompressing objects that
// carry CompressedExt. The file appears at localPath only once complete.
func (r *Remote) Download(ctx context.Context, objectName, localPath string) error {
	exists, err := r.bucket.Exists(ctx, objectName)
	if err != nil {
		return errors.Wrap(err, "check object existence")
	}
	if !exists {
		return errors.Wrapf(ErrObjectNotFound, "object %s", objectName)
	}

	dir := filepath.Dir(localPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create directory")
	}
	file, err := os.CreateTemp(dir, ".pull-*")
	if err != nil {
		return errors.Wrap(err, "create local file")
	}
	tmp := file.Name()
	defer func() {
		_ = file.Close()
		_ = os.Remove(tmp)
	}()

	reader, err := r.bucket.Get(ctx, objectName)
	if err != nil {
		return errors.Wrap(err, "get object")
	}
	defer reader.Close()

	level.Info(r.logger).Log("msg", "starting download", "object", objectName, "file", localPath)
	startTime := time.Now()

	var src io.Reader = reader
	if strings.HasSuffix(objectName, CompressedExt) {
		decoder, err := zstd.NewReader(reader)
		if err != nil {
			return errors.Wrap(err, "create zstd decoder")
		}
		defer decoder.Close()
		src = decoder
	}
	n, err := io.Copy(file, src)
	if err != nil {
		return errors.Wrap(err, "copy data")
	}
	if err := file.Sync(); err != nil {
		return errors.Wrap(err, "sync local file")
	}
	if err := file.Close(); err != nil {
		return errors.Wrap(err, "close local file")
	}
	if err := os.Rename(tmp, localPath); err != nil {
		return errors.Wrap(err, "move local file into place")
	}

	level.Info(r.logger).Log("msg", "download complete", "object", objectName, "size", n, "duration", time.Since(startTime))
	return nil
}

// List returns the object names directly under the client's prefix plus
// sub, sorted.
func (r *Remote) List(ctx context.Context, sub string) ([]string, error) {
	dir := r.ObjectName(strings.Trim(sub, "/"))
	if dir != "" {
		dir += "/"
	}
	var objects []string
	err := r.bucket.Iter(ctx, dir, func(name string) error {
		if !strings.HasSuffix(name, "/") {
			objects = append(objects, name)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "list objects")
	}
	sort.Strings(objects)
	return objects, nil
}

// Stat returns the size and modification time of objectName.
func (r *Remote) Stat(ctx context.Context, objectName string) (objstore.ObjectAttributes, error) {
	attrs, err := r.bucket.Attributes(ctx, objectName)
	if err != nil {
		if r.bucket.IsObjNotFoundErr(err) {
			return objstore.ObjectAttributes{}, errors.Wrapf(ErrObjectNotFound, "object %s", objectName)
		}
		return objstore.ObjectAttributes{}, errors.Wrap(err, "object attributes")
	}
	return attrs, nil
}

// Delete deletes objectName.
func (r *Remote) Delete(ctx context.Context, objectName string) error {
	if err := r.bucket.Delete(ctx, objectName); err != nil {
		if r.bucket.IsObjNotFoundErr(err) {
			return errors.Wrapf(ErrObjectNotFound, "object %s", objectName)
		}
		return errors.Wrap(err, "delete object")
	}
	return nil
}

// Exists reports whether objectName exists.
func (r *Remote) Exists(ctx context.Context, objectName string) (bool, error) {
	return r.bucket.Exists(ctx, objectName)
}

// Bucket returns the underlying objstore.Bucket.
func (r *Remote) Bucket() objstore.Bucket { return r.bucket }

// Close closes the bucket client.
func (r *Remote) Close() error {
	return r.bucket.Close()
}

// BaseName strips the prefix directories and CompressedExt from an object
// name.
func BaseName(objectName string) string {
	return strings.TrimSuffix(path.Base(objectName), CompressedExt)
}
