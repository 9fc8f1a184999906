package attachment

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/vivamoms/consult/internal/platform/apperror"
)

func scan() Metadata {
	return Metadata{StorageID: "ultrasound-1", FileName: "scan.png", FileSize: 2048, MimeType: "image/png"}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Metadata)
		prefix string
		ok     bool
	}{
		{"valid image", func(*Metadata) {}, "image/", true},
		{"valid file any type", func(m *Metadata) { m.MimeType = "application/pdf" }, "", true},
		{"missing storage id", func(m *Metadata) { m.StorageID = "" }, "", false},
		{"missing name", func(m *Metadata) { m.FileName = " " }, "", false},
		{"too large", func(m *Metadata) { m.FileSize = MaxFileSize + 1 }, "", false},
		{"exactly max", func(m *Metadata) { m.FileSize = MaxFileSize }, "", true},
		{"empty", func(m *Metadata) { m.FileSize = 0 }, "", false},
		{"disallowed type", func(m *Metadata) { m.MimeType = "text/html" }, "", false},
		{"pdf on image message", func(m *Metadata) { m.MimeType = "application/pdf" }, "image/", false},
		{"png on audio message", func(*Metadata) {}, "audio/", false},
		{"wav on audio message", func(m *Metadata) { m.MimeType = "audio/wav" }, "audio/", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := scan()
			tt.mutate(&m)
			err := Validate(m, tt.prefix)
			if tt.ok && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tt.ok && !apperror.Is(err, apperror.KindValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestVerifier_Check(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	v := NewVerifier(store)

	if err := v.Check(ctx, scan(), "image/"); !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("expected validation error for missing object, got %v", err)
	}
	store.Put("ultrasound-1", Object{Size: 2048, ContentType: "image/png"})
	if err := v.Check(ctx, scan(), "image/"); err != nil {
		t.Errorf("expected ok, got %v", err)
	}
	store.Put("ultrasound-1", Object{Size: 4096, ContentType: "image/png"})
	if err := v.Check(ctx, scan(), "image/"); !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("expected size mismatch, got %v", err)
	}

	if err := NewVerifier(nil).Check(ctx, scan(), ""); err != nil {
		t.Errorf("nil store should only validate metadata, got %v", err)
	}
}

type fakeS3 struct {
	out *s3.HeadObjectOutput
	err error
	key string
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.key = aws.ToString(in.Key)
	return f.out, f.err
}

func TestS3Store_Stat(t *testing.T) {
	client := &fakeS3{out: &s3.HeadObjectOutput{ContentLength: aws.Int64(10), ContentType: aws.String("audio/mpeg")}}
	store := &S3Store{client: client, bucket: "attachments"}

	obj, err := store.Stat(context.Background(), "voice-note")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if obj.Size != 10 || obj.ContentType != "audio/mpeg" || client.key != "voice-note" {
		t.Errorf("unexpected object %+v (key %s)", obj, client.key)
	}

	client.err = &types.NotFound{}
	if _, err := store.Stat(context.Background(), "missing"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}
