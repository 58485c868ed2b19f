package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/artistdir/internal/logging"
	"github.com/dmitrijs2005/artistdir/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	in  *s3.PutObjectInput
	err error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func sampleRecord() models.MergeRecord {
	return models.MergeRecord{
		CurrentID:          "U1",
		LegacyID:           "L1",
		ExternalIdentityID: "ext-1",
		Wallet:             "0xabc",
		CombinedCount:      13,
		MergedAt:           time.Date(2024, 3, 7, 10, 0, 0, 0, time.UTC),
	}
}

func TestObjectKey(t *testing.T) {
	key := ObjectKey(sampleRecord())
	assert.Regexp(t, regexp.MustCompile(`^merges/2024/03/07/L1-[0-9a-f-]{36}\.json$`), key)
	assert.NotEqual(t, key, ObjectKey(sampleRecord()))
}

func TestArchive_PutsJSON(t *testing.T) {
	p := &fakePutter{}
	a := &S3Archiver{client: p, bucket: "audit", logger: logging.Nop{}}

	require.NoError(t, a.Archive(context.Background(), sampleRecord()))

	require.NotNil(t, p.in)
	assert.Equal(t, "audit", aws.ToString(p.in.Bucket))
	assert.Equal(t, "application/json", aws.ToString(p.in.ContentType))

	raw, err := io.ReadAll(p.in.Body)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "L1", got["legacyId"])
	assert.Equal(t, "ext-1", got["externalIdentityId"])
	assert.EqualValues(t, 13, got["combinedCount"])
}

func TestArchive_PutError(t *testing.T) {
	a := &S3Archiver{client: &fakePutter{err: errors.New("denied")}, bucket: "audit", logger: logging.Nop{}}
	err := a.Archive(context.Background(), sampleRecord())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
}

func TestNewS3Archiver_AppliesOptions(t *testing.T) {
	origLoad := loadDefaultAWSConfig
	origNew := newS3ClientFromConfig
	t.Cleanup(func() {
		loadDefaultAWSConfig = origLoad
		newS3ClientFromConfig = origNew
	})

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			if err := fn(&lo); err != nil {
				t.Fatalf("load options fn error: %v", err)
			}
		}
		if lo.Region != "us-east-1" {
			t.Fatalf("region not applied: %q", lo.Region)
		}
		creds, err := lo.Credentials.Retrieve(ctx)
		if err != nil {
			t.Fatalf("credentials: %v", err)
		}
		if creds.AccessKeyID != "admin" || creds.SecretAccessKey != "secret" {
			t.Fatalf("unexpected credentials: %+v", creds)
		}
		return aws.Config{}, nil
	}

	var opts s3.Options
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) objectPutter {
		for _, fn := range optFns {
			fn(&opts)
		}
		return &fakePutter{}
	}

	a, err := NewS3Archiver(context.Background(), Config{
		Bucket: "audit", Region: "us-east-1", AccessKey: "admin", SecretKey: "secret",
		BaseEndpoint: "http://127.0.0.1:9000",
	}, logging.Nop{})
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "http://127.0.0.1:9000", aws.ToString(opts.BaseEndpoint))
	assert.True(t, opts.UsePathStyle)
}

func TestNewS3Archiver_ConfigError(t *testing.T) {
	origLoad := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = origLoad })

	loadDefaultAWSConfig = func(context.Context, ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no config")
	}

	_, err := NewS3Archiver(context.Background(), Config{}, logging.Nop{})
	require.Error(t, err)
}

func TestNopArchiver(t *testing.T) {
	require.NoError(t, NopArchiver{}.Archive(context.Background(), sampleRecord()))
}
