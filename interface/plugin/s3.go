package plugin

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/geowatch/eogate/common"
	"github.com/geowatch/eogate/config"
	"github.com/geowatch/eogate/service"
)

// s3Download fetches products hosted in an object-store bucket: every object
// under the product prefix is downloaded. Bucket products are always ONLINE.
type s3Download struct {
	provider    string
	cfg         config.DownloadConfig
	credentials config.Credentials
}

func (d *s3Download) Provider() string {
	return d.provider
}

func (d *s3Download) Order(context.Context, *common.Product) (string, error) {
	return "", service.MakeFatal(fmt.Errorf("s3Download[%s]: ordering not supported", d.provider))
}

func (d *s3Download) Status(context.Context, *common.Product) (common.StorageStatus, error) {
	return common.StorageONLINE, nil
}

// Fetch downloads every object under one s3://bucket/prefix location into
// destDir, flat.
func (d *s3Download) Fetch(ctx context.Context, product *common.Product, location, destDir string, progress *service.Progress) (string, error) {
	bucket, prefix, err := splitS3Location(location)
	if err != nil {
		return "", fmt.Errorf("Fetch.%w", err)
	}

	client, err := d.client(ctx)
	if err != nil {
		return "", fmt.Errorf("Fetch.%w", err)
	}
	downloader := manager.NewDownloader(client, func(dl *manager.Downloader) {
		dl.PartSize = 10 * 1024 * 1024
	})

	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}, func(o *s3.ListObjectsV2PaginatorOptions) {
		// typical products hold far fewer objects than one page
		o.Limit = 200
	})

	fetched := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return "", service.MakeTemporary(fmt.Errorf("Fetch.NextPage: %w", err))
		}
		for _, object := range page.Contents {
			objectKey := aws.ToString(object.Key)
			progress.AddTotal(aws.ToInt64(object.Size))
			localPath := filepath.Join(destDir, path.Base(objectKey))
			n, err := downloadObject(ctx, downloader, bucket, objectKey, localPath)
			if err != nil {
				return "", fmt.Errorf("Fetch.%w", err)
			}
			progress.UpdateDelta(n)
			fetched++
		}
	}
	if fetched == 0 {
		return "", service.NotAvailableError{Product: product.ID}
	}
	return destDir, nil
}

func (d *s3Download) client(ctx context.Context) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(d.cfg.Region)}
	switch {
	case d.cfg.Anonymous:
		opts = append(opts, awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}))
	case d.credentials.AWSAccessKey != "":
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(d.credentials.AWSAccessKey, d.credentials.AWSSecretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("client.LoadDefaultConfig: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if d.cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(d.cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func downloadObject(ctx context.Context, downloader *manager.Downloader, bucket, objectKey, localPath string) (int64, error) {
	file, err := os.Create(localPath)
	if err != nil {
		return 0, fmt.Errorf("downloadObject.Create[%s]: %w", localPath, err)
	}
	defer file.Close()

	n, err := downloader.Download(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return 0, service.MakeTemporary(fmt.Errorf("downloadObject[%s/%s]: %w", bucket, objectKey, err))
	}
	return n, nil
}

// splitS3Location splits s3://bucket/prefix.
func splitS3Location(location string) (bucket, prefix string, err error) {
	trimmed := strings.TrimPrefix(location, "s3://")
	if trimmed == location {
		return "", "", fmt.Errorf("splitS3Location: invalid location %q", location)
	}
	bucket, prefix, _ = strings.Cut(trimmed, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("splitS3Location: invalid location %q", location)
	}
	return bucket, prefix, nil
}
