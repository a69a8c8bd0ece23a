package db

import (
	"bytes"
	"context"
	"feedscroll/models"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/require"
)

type fakeObject struct {
	Data         []byte
	LastModified time.Time
}

type fakeUpload struct {
	Key   string
	Parts map[int32][]byte
}

type fakeS3 struct {
	Objects     map[string]fakeObject
	Uploads     map[string]*fakeUpload
	Now         time.Time
	FailPart    int32
	nextId      int
	PartsPerKey map[string]int
}

func newFakeS3(now time.Time) *fakeS3 {
	return &fakeS3{
		Objects:     map[string]fakeObject{},
		Uploads:     map[string]*fakeUpload{},
		Now:         now,
		FailPart:    0,
		nextId:      0,
		PartsPerKey: map[string]int{},
	}
}

func (f *fakeS3) ListMultipartUploads(
	_ context.Context, params *s3.ListMultipartUploadsInput, _ ...func(*s3.Options),
) (*s3.ListMultipartUploadsOutput, error) {
	var uploads []types.MultipartUpload
	for id, upload := range f.Uploads {
		if !strings.HasPrefix(upload.Key, aws.ToString(params.Prefix)) {
			continue
		}
		//nolint:exhaustruct
		uploads = append(uploads, types.MultipartUpload{
			Key:      aws.String(upload.Key),
			UploadId: aws.String(id),
		})
	}
	//nolint:exhaustruct
	return &s3.ListMultipartUploadsOutput{
		Bucket:      params.Bucket,
		Uploads:     uploads,
		IsTruncated: aws.Bool(false),
	}, nil
}

func (f *fakeS3) AbortMultipartUpload(
	_ context.Context, params *s3.AbortMultipartUploadInput, _ ...func(*s3.Options),
) (*s3.AbortMultipartUploadOutput, error) {
	delete(f.Uploads, aws.ToString(params.UploadId))
	return &s3.AbortMultipartUploadOutput{}, nil //nolint:exhaustruct
}

func (f *fakeS3) CreateMultipartUpload(
	_ context.Context, params *s3.CreateMultipartUploadInput, _ ...func(*s3.Options),
) (*s3.CreateMultipartUploadOutput, error) {
	f.nextId++
	id := fmt.Sprintf("upload-%d", f.nextId)
	f.Uploads[id] = &fakeUpload{
		Key:   aws.ToString(params.Key),
		Parts: map[int32][]byte{},
	}
	//nolint:exhaustruct
	return &s3.CreateMultipartUploadOutput{
		Bucket:   params.Bucket,
		Key:      params.Key,
		UploadId: aws.String(id),
	}, nil
}

func (f *fakeS3) UploadPart(
	_ context.Context, params *s3.UploadPartInput, _ ...func(*s3.Options),
) (*s3.UploadPartOutput, error) {
	partNumber := aws.ToInt32(params.PartNumber)
	if partNumber == f.FailPart {
		return nil, fmt.Errorf("part %d rejected", partNumber)
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.Uploads[aws.ToString(params.UploadId)].Parts[partNumber] = data
	//nolint:exhaustruct
	return &s3.UploadPartOutput{
		ETag: aws.String(fmt.Sprintf("etag-%d", partNumber)),
	}, nil
}

func (f *fakeS3) CompleteMultipartUpload(
	_ context.Context, params *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options),
) (*s3.CompleteMultipartUploadOutput, error) {
	id := aws.ToString(params.UploadId)
	upload := f.Uploads[id]
	var data []byte
	for _, part := range params.MultipartUpload.Parts {
		data = append(data, upload.Parts[aws.ToInt32(part.PartNumber)]...)
	}
	f.Objects[upload.Key] = fakeObject{
		Data:         data,
		LastModified: f.Now,
	}
	f.PartsPerKey[upload.Key] = len(params.MultipartUpload.Parts)
	delete(f.Uploads, id)
	return &s3.CompleteMultipartUploadOutput{}, nil //nolint:exhaustruct
}

func (f *fakeS3) ListObjectsV2(
	_ context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options),
) (*s3.ListObjectsV2Output, error) {
	var contents []types.Object
	for key, object := range f.Objects {
		if !strings.HasPrefix(key, aws.ToString(params.Prefix)) {
			continue
		}
		//nolint:exhaustruct
		contents = append(contents, types.Object{
			Key:          aws.String(key),
			LastModified: aws.Time(object.LastModified),
			Size:         aws.Int64(int64(len(object.Data))),
		})
	}
	//nolint:exhaustruct
	return &s3.ListObjectsV2Output{
		Contents:    contents,
		KeyCount:    aws.Int32(int32(len(contents))),
		IsTruncated: aws.Bool(false),
	}, nil
}

func (f *fakeS3) DeleteObjects(
	_ context.Context, params *s3.DeleteObjectsInput, _ ...func(*s3.Options),
) (*s3.DeleteObjectsOutput, error) {
	var deleted []types.DeletedObject
	for _, object := range params.Delete.Objects {
		delete(f.Objects, aws.ToString(object.Key))
		deleted = append(deleted, types.DeletedObject{Key: object.Key}) //nolint:exhaustruct
	}
	return &s3.DeleteObjectsOutput{Deleted: deleted}, nil //nolint:exhaustruct
}

func (f *fakeS3) keys() []string {
	var keys []string
	for key := range f.Objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func TestUploadBackupInParts(t *testing.T) {
	client := newFakeS3(testStart)
	client.Uploads["stale"] = &fakeUpload{Key: "feedscroll/feedscroll_20240101_000000.sqlite", Parts: nil}
	snapshot := bytes.Repeat([]byte("0123456789"), 25)

	result, err := UploadBackup(context.Background(), client, bytes.NewReader(snapshot), BackupOptions{
		Bucket:   "scrapes",
		Prefix:   "feedscroll/",
		Keep:     30,
		PartSize: 100,
		Now:      testStart,
	})
	require.NoError(t, err)
	require.Equal(t, "feedscroll/feedscroll_20240310_120000.sqlite", result.Key)
	require.Equal(t, int64(250), result.Size)
	require.Equal(t, 3, result.Parts)
	require.Equal(t, 1, result.Aborted)
	require.Equal(t, 0, result.Deleted)
	require.Empty(t, client.Uploads)
	require.Equal(t, snapshot, client.Objects[result.Key].Data)
}

func TestUploadBackupExactPartSize(t *testing.T) {
	client := newFakeS3(testStart)
	snapshot := bytes.Repeat([]byte("x"), 200)

	result, err := UploadBackup(context.Background(), client, bytes.NewReader(snapshot), BackupOptions{
		Bucket:   "scrapes",
		Prefix:   "",
		Keep:     1,
		PartSize: 100,
		Now:      testStart,
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.Parts)
	require.Equal(t, snapshot, client.Objects[result.Key].Data)
}

func TestUploadBackupPrunesOldest(t *testing.T) {
	client := newFakeS3(testStart)
	for i := 1; i <= 3; i++ {
		createdAt := testStart.Add(-time.Duration(i) * 24 * time.Hour)
		client.Objects[BackupKey("feedscroll/", createdAt)] = fakeObject{
			Data:         []byte("old"),
			LastModified: createdAt,
		}
	}
	client.Objects["elsewhere/feedscroll_20200101_000000.sqlite"] = fakeObject{
		Data:         []byte("other prefix"),
		LastModified: testStart.AddDate(-4, 0, 0),
	}

	result, err := UploadBackup(context.Background(), client, strings.NewReader("new"), BackupOptions{
		Bucket:   "scrapes",
		Prefix:   "feedscroll/",
		Keep:     2,
		PartSize: 0,
		Now:      testStart,
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.Deleted)
	require.Equal(t, []string{
		"elsewhere/feedscroll_20200101_000000.sqlite",
		"feedscroll/feedscroll_20240309_120000.sqlite",
		"feedscroll/feedscroll_20240310_120000.sqlite",
	}, client.keys())
}

func TestUploadBackupAbortsOnPartFailure(t *testing.T) {
	client := newFakeS3(testStart)
	client.FailPart = 2

	_, err := UploadBackup(context.Background(), client, strings.NewReader("0123456789"), BackupOptions{
		Bucket:   "scrapes",
		Prefix:   "",
		Keep:     30,
		PartSize: 4,
		Now:      testStart,
	})
	require.ErrorContains(t, err, "part 2 rejected")
	require.Empty(t, client.Uploads)
	require.Empty(t, client.Objects)
}

func TestSnapshot(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	_, err := store.SaveResult(ctx, testResult("run-1", []models.Post{testPost("1", "alice", 5)}))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "snapshot.sqlite")
	require.NoError(t, store.Snapshot(ctx, path))
	require.Error(t, store.Snapshot(ctx, path))

	snapshot, err := Open(path)
	require.NoError(t, err)
	defer snapshot.Close()
	require.NoError(t, snapshot.EnsureLatestMigration(ctx))
	posts, err := snapshot.LoadPosts(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, posts, 1)
}
