package local_fs

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	client, err := NewClient(&Config{SavePath: t.TempDir(), CustomPath: "vm"})
	require.NoError(t, err)

	saved, err := client.Put(ctx, "1/0/disk.0", strings.NewReader("hello world"), 11)
	require.NoError(t, err)
	assert.FileExists(t, saved)

	rc, err := client.Get(ctx, "1/0/disk.0")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	require.NoError(t, client.Delete(ctx, "1/0/disk.0"))
	_, err = os.Stat(saved)
	assert.True(t, os.IsNotExist(err))

	// deleting a missing object is not an error
	assert.NoError(t, client.Delete(ctx, "1/0/disk.0"))
}

func TestLocalFS_PutHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client, err := NewClient(&Config{SavePath: t.TempDir()})
	require.NoError(t, err)

	_, err = client.Put(ctx, "k", strings.NewReader("data"), 4)
	assert.Error(t, err)
}

func TestNewClient_RequiresPath(t *testing.T) {
	_, err := NewClient(&Config{})
	assert.Error(t, err)
}
