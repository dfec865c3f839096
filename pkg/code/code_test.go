package code

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeLang(t *testing.T) {
	cases := map[string]string{
		"":                      LangEN,
		"en":                    LangEN,
		"en-US":                 LangEN,
		"zh":                    LangZH,
		"zh-CN":                 LangZH,
		"zh_Hans":               LangZH,
		"zh-CN,zh;q=0.9,en;q=8": LangZH,
		"fr":                    LangEN,
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeLang(in), in)
	}
}

func TestCodeMessages(t *testing.T) {
	c := ErrorBackupJobLocked.Clone()
	assert.Equal(t, "Backup job is locked", c.Msg())
	assert.Equal(t, "备份任务已锁定", c.MsgIn("zh-CN"))
	assert.Equal(t, "Backup job is locked", c.MsgIn("de"))

	c.WithDetails("USE")
	assert.Equal(t, "Backup job is locked: USE", c.Error())
	assert.Empty(t, ErrorBackupJobLocked.Details())
}

func TestKindAndStatus(t *testing.T) {
	wrapped := fmt.Errorf("rename: %w", ErrorBackupJobLocked.Clone())

	assert.Equal(t, KindConflict, KindOf(wrapped))
	assert.True(t, errors.Is(wrapped, ErrorBackupJobLocked))
	assert.Equal(t, http.StatusConflict, From(wrapped).StatusCode())

	plain := errors.New("disk on fire")
	assert.Equal(t, KindInternal, KindOf(plain))
	assert.Equal(t, http.StatusInternalServerError, From(plain).StatusCode())
	assert.Equal(t, KindNone, KindOf(nil))

	assert.Equal(t, http.StatusOK, Success.StatusCode())
	assert.Equal(t, "ConflictError", KindConflict.String())
}
