package storage_test

import (
	"testing"

	"github.com/haierkeys/vm-backup-service/pkg/storage"
	"github.com/haierkeys/vm-backup-service/pkg/storage/aws_s3"
	"github.com/haierkeys/vm-backup-service/pkg/storage/local_fs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewClient_Local(t *testing.T) {
	client, err := storage.NewClient(&storage.Config{Type: storage.LOCAL, SavePath: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)
	_, ok := client.(*local_fs.LocalFS)
	assert.True(t, ok)
}

func TestNewClient_MinIOUsesPathStyle(t *testing.T) {
	cfg := storage.FromAttributes("MINIO", map[string]string{
		"ENDPOINT":          "http://127.0.0.1:9000",
		"BUCKET":            "backups",
		"ACCESS_KEY_ID":     "ak",
		"ACCESS_KEY_SECRET": "sk",
	})
	assert.Equal(t, storage.MinIO, cfg.Type)

	client, err := storage.NewClient(cfg, zap.NewNop())
	require.NoError(t, err)
	s3c, ok := client.(*aws_s3.S3)
	require.True(t, ok)
	assert.True(t, s3c.Config.UsePathStyle)
	assert.Equal(t, "backups", s3c.Config.BucketName)
}

func TestNewClient_Invalid(t *testing.T) {
	_, err := storage.NewClient(&storage.Config{Type: "invalid"}, nil)
	assert.Error(t, err)

	_, err = storage.NewClient(nil, nil)
	assert.Error(t, err)
}
