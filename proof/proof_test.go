package proof

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixed = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

func TestLocal_PutOpen(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	l.Now = func() time.Time { return fixed }
	ctx := context.Background()

	ref, err := l.Put(ctx, "Receipt.PNG", strings.NewReader("png-bytes"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "2025/03/"), ref)
	assert.True(t, strings.HasSuffix(ref, ".png"), ref)

	rc, ct, err := l.Open(ctx, ref)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(body))
	assert.Equal(t, "image/png", ct)

	other, err := l.Put(ctx, "receipt.png", strings.NewReader("x"))
	require.NoError(t, err)
	assert.NotEqual(t, ref, other, "every upload gets a fresh key")
}

func TestLocal_Rejects(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = l.Put(ctx, "payload.exe", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrUnsupportedType)

	for _, ref := range []string{"", "../etc/passwd", "/etc/passwd", "2025/../../x.png", `2025\x.png`, "."} {
		_, _, err := l.Open(ctx, ref)
		assert.ErrorIs(t, err, ErrInvalidRef, ref)
	}

	_, _, err = l.Open(ctx, "2025/01/missing.png")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/pdf", ContentType("a/b.PDF"))
	assert.Equal(t, "image/jpeg", ContentType("x.jpeg"))
	assert.Equal(t, "application/octet-stream", ContentType("noext"))
}

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:        io.NopCloser(bytes.NewReader(data)),
		ContentType: aws.String(f.types[aws.ToString(in.Key)]),
	}, nil
}

func TestS3_PutOpen(t *testing.T) {
	fake := &fakeObjects{objects: map[string][]byte{}, types: map[string]string{}}
	s := &S3{Client: fake, Bucket: "donations", Prefix: "proofs/", Now: func() time.Time { return fixed }}
	ctx := context.Background()

	ref, err := s.Put(ctx, "slip.pdf", strings.NewReader("%PDF"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "proofs/2025/03/"), ref)
	assert.Equal(t, "application/pdf", fake.types[ref])

	rc, ct, err := s.Open(ctx, ref)
	require.NoError(t, err)
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	assert.Equal(t, "%PDF", string(body))
	assert.Equal(t, "application/pdf", ct)

	_, _, err = s.Open(ctx, "proofs/2025/03/nope.pdf")
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = s.Open(ctx, "elsewhere/2025/03/x.pdf")
	assert.ErrorIs(t, err, ErrInvalidRef)
}
