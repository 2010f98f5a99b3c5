package clients

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sony/gobreaker"

	"nkrypt-xyz/bootstrapper/internal/config"
	"nkrypt-xyz/bootstrapper/internal/orchestrator"
)

const minioProbeName = "minio"

// bucketChecker is satisfied by *minio.Client.
type bucketChecker interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
}

// MinIOClient probes the stack's object store and the blob bucket the web
// server writes to.
type MinIOClient struct {
	endpoint  string
	accessKey string
	secretKey string
	bucket    string
	cb        *gobreaker.CircuitBreaker
	connect   func(endpoint, accessKey, secretKey string) (bucketChecker, error)
}

// NewMinIOClient creates a MinIOClient for the host-side S3 port.
func NewMinIOClient(s config.StackConfig, cb *gobreaker.CircuitBreaker) *MinIOClient {
	return &MinIOClient{
		endpoint:  net.JoinHostPort(s.MinIO.Host, strconv.Itoa(s.Ports.MinIO)),
		accessKey: s.MinIO.AccessKey,
		secretKey: s.MinIO.SecretKey,
		bucket:    s.MinIO.Bucket,
		cb:        cb,
		connect:   realMinIOConnect,
	}
}

// Probe checks that MinIO answers with the configured credentials and that
// the blob bucket exists. The bucket is created by the web server on its
// first start, so a missing bucket before then is expected.
func (c *MinIOClient) Probe(ctx context.Context) orchestrator.ProbeResult {
	return guardedProbe(c.cb, minioProbeName, func() error {
		client, err := c.connect(c.endpoint, c.accessKey, c.secretKey)
		if err != nil {
			return err
		}

		exists, err := client.BucketExists(ctx, c.bucket)
		if err != nil {
			return fmt.Errorf("checking bucket %s: %w", c.bucket, err)
		}
		if !exists {
			return fmt.Errorf("bucket %s does not exist", c.bucket)
		}
		return nil
	})
}

func realMinIOConnect(endpoint, accessKey, secretKey string) (bucketChecker, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: false,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}
	return client, nil
}
