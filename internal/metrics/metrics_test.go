package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveBackup(t *testing.T) {
	before := testutil.ToFloat64(BackupTotal.WithLabelValues("FULL", "error"))
	ObserveBackup("FULL", time.Now(), 10, errors.New("x"))
	assert.Equal(t, before+1, testutil.ToFloat64(BackupTotal.WithLabelValues("FULL", "error")))

	size := testutil.ToFloat64(BackupSizeMB.WithLabelValues("INCREMENT"))
	ObserveBackup("INCREMENT", time.Now(), 7, nil)
	assert.Equal(t, size+7, testutil.ToFloat64(BackupSizeMB.WithLabelValues("INCREMENT")))
}

func TestRegister_Idempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	assert.NotPanics(t, func() {
		Register(reg)
		Register(reg)
	})
}
