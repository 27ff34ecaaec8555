package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zip"
)

func TestWriteRoundTrip(t *testing.T) {
	entries := []Entry{
		{Name: "a_resize.png", Data: bytes.Repeat([]byte("x"), 1000)},
		{Name: "a_normalize.png", Data: []byte("second")},
	}
	var buf bytes.Buffer
	if err := Write(&buf, entries); err != nil {
		t.Fatalf("Write: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if len(zr.File) != len(entries) {
		t.Fatalf("entries = %d, want %d", len(zr.File), len(entries))
	}
	for i, f := range zr.File {
		if f.Name != entries[i].Name {
			t.Errorf("entry %d name = %q, want %q", i, f.Name, entries[i].Name)
		}
		if f.Method != zip.Deflate {
			t.Errorf("entry %d method = %d, want deflate", i, f.Method)
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("Open %s: %v", f.Name, err)
		}
		got, _ := io.ReadAll(rc)
		rc.Close()
		if !bytes.Equal(got, entries[i].Data) {
			t.Errorf("entry %s content mismatch", f.Name)
		}
	}
}

func TestWriteEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if len(zr.File) != 0 {
		t.Errorf("entries = %d, want 0", len(zr.File))
	}
}

type fakeS3 struct {
	putErr error
	key    string
	body   []byte
	tag    string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.key = *in.Key
	f.tag = *in.Tagging
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) PresignGetObject(_ context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Expires != DefaultExpiry {
		return nil, errors.New("unexpected expiry")
	}
	return &v4.PresignedHTTPRequest{URL: "https://example.test/" + *in.Bucket + "/" + *in.Key}, nil
}

func TestStoreUpload(t *testing.T) {
	fake := &fakeS3{}
	s := &Store{client: fake, presign: fake, bucket: "bundles", expiry: DefaultExpiry}

	url, err := s.Upload(context.Background(), "abc", []byte("zipdata"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if fake.key != "batches/abc/processed_abc.zip" {
		t.Errorf("key = %q", fake.key)
	}
	if string(fake.body) != "zipdata" {
		t.Errorf("body = %q", fake.body)
	}
	if fake.tag != projectTag {
		t.Errorf("tagging = %q", fake.tag)
	}
	if want := "https://example.test/bundles/batches/abc/processed_abc.zip"; url != want {
		t.Errorf("url = %q, want %q", url, want)
	}
}

func TestStoreUploadError(t *testing.T) {
	fake := &fakeS3{putErr: errors.New("access denied")}
	s := &Store{client: fake, presign: fake, bucket: "bundles", expiry: DefaultExpiry}

	if _, err := s.Upload(context.Background(), "abc", nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestStoreLink(t *testing.T) {
	fake := &fakeS3{}
	s := &Store{client: fake, presign: fake, bucket: "bundles", expiry: DefaultExpiry}

	url, err := s.Link(context.Background(), "xyz")
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if want := "https://example.test/bundles/batches/xyz/processed_xyz.zip"; url != want {
		t.Errorf("url = %q, want %q", url, want)
	}
	if fake.key != "" {
		t.Errorf("Link uploaded %q", fake.key)
	}
}
