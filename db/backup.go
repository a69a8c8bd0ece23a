package db

import (
	"bytes"
	"context"
	"errors"
	"feedscroll/config"
	"feedscroll/log"
	"feedscroll/oops"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const defaultPartSize int64 = 50 * 1024 * 1024

// S3Api is the part of the S3 client that backups go through.
type S3Api interface {
	ListMultipartUploads(
		ctx context.Context, params *s3.ListMultipartUploadsInput, optFns ...func(*s3.Options),
	) (*s3.ListMultipartUploadsOutput, error)
	AbortMultipartUpload(
		ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options),
	) (*s3.AbortMultipartUploadOutput, error)
	CreateMultipartUpload(
		ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options),
	) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(
		ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options),
	) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(
		ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options),
	) (*s3.CompleteMultipartUploadOutput, error)
	ListObjectsV2(
		ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options),
	) (*s3.ListObjectsV2Output, error)
	DeleteObjects(
		ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options),
	) (*s3.DeleteObjectsOutput, error)
}

func NewS3Client(ctx context.Context, cfg config.Backup) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.S3Region)}
	if cfg.AwsAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AwsAccessKey, cfg.AwsSecretAccessKey, "")
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, oops.Wrap(err)
	}
	return s3.NewFromConfig(awsCfg), nil
}

// Snapshot writes a consistent copy of the database to path, which must not exist yet.
func (s *Store) Snapshot(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err == nil {
		return oops.Newf("snapshot target already exists: %s", path)
	}
	_, err := s.db.Conn(ctx).Exec("vacuum into ?", path)
	if err != nil {
		return oops.Wrapf(err, "snapshot into %s", path)
	}
	return nil
}

type BackupOptions struct {
	Bucket   string
	Prefix   string
	Keep     int
	PartSize int64
	Now      time.Time
}

type BackupResult struct {
	Key     string
	Size    int64
	Parts   int
	Aborted int
	Deleted int
}

func BackupKey(prefix string, now time.Time) string {
	return fmt.Sprintf("%sfeedscroll_%s.sqlite", prefix, now.UTC().Format("20060102_150405"))
}

// UploadBackup aborts leftover multipart uploads, uploads the snapshot in parts and deletes all
// but the newest Keep backups under the prefix.
func UploadBackup(
	ctx context.Context, client S3Api, snapshot io.Reader, opts BackupOptions,
) (BackupResult, error) {
	var result BackupResult
	if opts.PartSize <= 0 {
		opts.PartSize = defaultPartSize
	}

	//nolint:exhaustruct
	incompleteUploads, err := client.ListMultipartUploads(ctx, &s3.ListMultipartUploadsInput{
		Bucket: aws.String(opts.Bucket),
		Prefix: aws.String(opts.Prefix),
	})
	if err != nil {
		return result, oops.Wrap(err)
	}
	if incompleteUploads.IsTruncated == nil || *incompleteUploads.IsTruncated {
		return result, oops.Newf(
			"S3 incomplete uploads list was truncated at %d", len(incompleteUploads.Uploads),
		)
	}
	for _, incompleteUpload := range incompleteUploads.Uploads {
		//nolint:exhaustruct
		_, err := client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(opts.Bucket),
			Key:      incompleteUpload.Key,
			UploadId: incompleteUpload.UploadId,
		})
		if err != nil {
			return result, oops.Wrap(err)
		}
		result.Aborted++
	}
	if result.Aborted > 0 {
		log.Info().Msgf("Aborted %d incomplete uploads", result.Aborted)
	}

	result.Key = BackupKey(opts.Prefix, opts.Now)
	//nolint:exhaustruct
	uploadOutput, err := client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(opts.Bucket),
		Key:         aws.String(result.Key),
		ContentType: aws.String("application/vnd.sqlite3"),
	})
	if err != nil {
		return result, oops.Wrap(err)
	}

	completedParts, size, err := uploadParts(ctx, client, uploadOutput, snapshot, opts.PartSize)
	if err != nil {
		//nolint:exhaustruct
		_, abortErr := client.AbortMultipartUpload(context.Background(), &s3.AbortMultipartUploadInput{
			Bucket:   uploadOutput.Bucket,
			Key:      uploadOutput.Key,
			UploadId: uploadOutput.UploadId,
		})
		if abortErr != nil {
			log.Warn().Err(abortErr).Str("key", result.Key).Msg("Couldn't abort upload")
		}
		return result, err
	}
	result.Parts = len(completedParts)
	result.Size = size

	//nolint:exhaustruct
	_, err = client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   uploadOutput.Bucket,
		Key:      uploadOutput.Key,
		UploadId: uploadOutput.UploadId,
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completedParts,
		},
	})
	if err != nil {
		return result, oops.Wrap(err)
	}
	log.Info().Str("key", result.Key).Int64("size", size).Int("parts", result.Parts).Msg("Backup uploaded")

	result.Deleted, err = pruneBackups(ctx, client, opts)
	if err != nil {
		return result, err
	}
	return result, nil
}

func uploadParts(
	ctx context.Context, client S3Api, upload *s3.CreateMultipartUploadOutput, snapshot io.Reader,
	partSize int64,
) ([]types.CompletedPart, int64, error) {
	buf := make([]byte, partSize)
	var completedParts []types.CompletedPart
	var size int64
	var partNumber int32 = 1
	for {
		partLength, err := io.ReadFull(snapshot, buf)
		isLast := errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
		if err != nil && !isLast {
			return nil, 0, oops.Wrap(err)
		}
		// S3 wants at least one part even for an empty object
		if partLength == 0 && len(completedParts) > 0 {
			break
		}

		//nolint:exhaustruct
		uploadResult, err := client.UploadPart(ctx, &s3.UploadPartInput{
			Body:       bytes.NewReader(buf[:partLength]),
			Bucket:     upload.Bucket,
			Key:        upload.Key,
			PartNumber: aws.Int32(partNumber),
			UploadId:   upload.UploadId,
		})
		if err != nil {
			return nil, 0, oops.Wrap(err)
		}
		//nolint:exhaustruct
		completedParts = append(completedParts, types.CompletedPart{
			ETag:       uploadResult.ETag,
			PartNumber: aws.Int32(partNumber),
		})
		size += int64(partLength)
		partNumber++
		log.Debug().Msgf("Backup %s: uploaded %d parts", aws.ToString(upload.Key), len(completedParts))
		if isLast {
			break
		}
	}
	return completedParts, size, nil
}

func pruneBackups(ctx context.Context, client S3Api, opts BackupOptions) (int, error) {
	//nolint:exhaustruct
	listOutput, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(opts.Bucket),
		Prefix: aws.String(opts.Prefix),
	})
	if err != nil {
		return 0, oops.Wrap(err)
	}
	if listOutput.IsTruncated == nil || *listOutput.IsTruncated {
		return 0, oops.Newf("S3 list output was truncated at %d", len(listOutput.Contents))
	}

	var objects []types.Object
	for _, object := range listOutput.Contents {
		if object.Key == nil || !strings.HasSuffix(*object.Key, ".sqlite") {
			continue
		}
		if object.LastModified == nil {
			return 0, oops.Newf("S3 last modified time is null: %s", *object.Key)
		}
		objects = append(objects, object)
	}
	slices.SortFunc(objects, func(a, b types.Object) int {
		return b.LastModified.Compare(*a.LastModified) // descending
	})
	if len(objects) <= opts.Keep {
		log.Info().Msgf("No old backups to delete (total: %d)", len(objects))
		return 0, nil
	}

	var objectsToDelete []types.ObjectIdentifier
	for _, object := range objects[opts.Keep:] {
		//nolint:exhaustruct
		objectsToDelete = append(objectsToDelete, types.ObjectIdentifier{
			Key: object.Key,
		})
	}
	//nolint:exhaustruct
	deleteResult, err := client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(opts.Bucket),
		Delete: &types.Delete{
			Objects: objectsToDelete,
		},
	})
	if err != nil {
		return 0, oops.Wrap(err)
	}
	for _, deleteErr := range deleteResult.Errors {
		log.Error().Msgf("Object deletion error: %s %s", aws.ToString(deleteErr.Key), aws.ToString(deleteErr.Message))
	}
	if len(deleteResult.Errors) > 0 {
		return len(deleteResult.Deleted), oops.Newf("Couldn't delete %d objects", len(deleteResult.Errors))
	}
	log.Info().Msgf("Deleted %d old backups", len(deleteResult.Deleted))
	return len(deleteResult.Deleted), nil
}
