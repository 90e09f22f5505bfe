package receipts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agistaffers/backoffice/internal/pkg/apperrors"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	pdfBytes  = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	pngBytes  = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)
	htmlBytes = []byte("<!DOCTYPE html><html><body>receipt</body></html>")
)

func TestSniff(t *testing.T) {
	mime, ext, err := Sniff(pdfBytes)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", mime)
	assert.Equal(t, ".pdf", ext)

	mime, ext, err = Sniff(pngBytes)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, ".png", ext)

	_, _, err = Sniff(htmlBytes)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	_, _, err = Sniff(nil)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	big := append(append([]byte{}, pdfBytes...), make([]byte, MaxSize)...)
	_, _, err = Sniff(big)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestObjectKey(t *testing.T) {
	now := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "receipts/2026/03/BD-260309-ABCDEF12.pdf", ObjectKey(now, "BD-260309-ABCDEF12", ".pdf"))
}

func TestLocalStoreRoundTrip(t *testing.T) {
	root := t.TempDir()
	store := NewLocalStore(root)
	now := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)

	stored, err := Put(context.Background(), store, now, "BD-1", pdfBytes)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", stored.ContentType)
	assert.Equal(t, int64(len(pdfBytes)), stored.Size)

	got, err := os.ReadFile(filepath.Join(root, stored.Location))
	require.NoError(t, err)
	assert.Equal(t, pdfBytes, got)

	require.NoError(t, store.Delete(context.Background(), stored.Location))
	_, err = os.Stat(filepath.Join(root, stored.Location))
	assert.True(t, os.IsNotExist(err))

	_, err = store.Save(context.Background(), "../escape.pdf", pdfBytes, "application/pdf")
	assert.Error(t, err)
}

type fakeObjectAPI struct {
	puts    map[string][]byte
	deleted []string
	headErr error
	created bool
}

func (f *fakeObjectAPI) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.puts == nil {
		f.puts = map[string][]byte{}
	}
	f.puts[aws.ToString(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjectAPI) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeObjectAPI) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.headErr
}

func (f *fakeObjectAPI) CreateBucket(context.Context, *s3.CreateBucketInput, ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.created = true
	return &s3.CreateBucketOutput{}, nil
}

func TestS3StoreSaveAndDelete(t *testing.T) {
	api := &fakeObjectAPI{}
	store := &S3Store{api: api, config: &S3Config{BucketName: "receipts-bucket"}}

	stored, err := store.Save(context.Background(), "receipts/2026/03/BD-1.pdf", pdfBytes, "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "s3://receipts-bucket/receipts/2026/03/BD-1.pdf", stored.Location)
	assert.True(t, bytes.Equal(pdfBytes, api.puts["receipts/2026/03/BD-1.pdf"]))

	require.NoError(t, store.Delete(context.Background(), stored.Location))
	assert.Equal(t, []string{"receipts/2026/03/BD-1.pdf"}, api.deleted)
}

func TestS3StoreCreatesMissingBucketOutsideProd(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	api := &fakeObjectAPI{headErr: errors.New("not found")}
	store := &S3Store{api: api, config: &S3Config{BucketName: "receipts-bucket", Region: "us-east-1"}}

	require.NoError(t, store.ensureBucket(context.Background()))
	assert.True(t, api.created)
}

func TestLoadS3ConfigRequiresCredentials(t *testing.T) {
	t.Setenv("RECEIPTS_S3_ENABLED", "true")
	t.Setenv("RECEIPTS_S3_ACCESS_KEY_ID", "")
	_, err := LoadS3Config()
	assert.Error(t, err)
}
