package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWhen(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "now", want: "+0"},
		{in: "+3600", want: "+3600"},
		{in: "1767225600", want: "1767225600"},
		{in: "2026-03-02", want: strconv.FormatInt(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC).Unix(), 10)},
		{in: "2026-03-02 10:30", want: strconv.FormatInt(time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC).Unix(), 10)},
		{in: "33/09/23 14:15", want: strconv.FormatInt(time.Date(2033, 9, 23, 14, 15, 0, 0, time.UTC).Unix(), 10)},
		{in: "33/09/23 14:15:30", want: strconv.FormatInt(time.Date(2033, 9, 23, 14, 15, 30, 0, time.UTC).Unix(), 10)},
		{in: "2033/09/23 14:15", want: strconv.FormatInt(time.Date(2033, 9, 23, 14, 15, 0, 0, time.UTC).Unix(), 10)},
		{in: "33/13/23 14:15", wantErr: true},
		{in: "", wantErr: true},
		{in: "+abc", wantErr: true},
		{in: "tomorrow", wantErr: true},
	}
	for _, c := range cases {
		got, err := parseWhen(c.in, now)
		if c.wantErr {
			assert.Error(t, err, c.in)
			continue
		}
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestScheduleFields(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("no schedule", func(t *testing.T) {
		f := &scheduleFlags{}
		out, ok, err := f.fields(now)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, out)
	})

	t.Run("recurrence without schedule", func(t *testing.T) {
		f := &scheduleFlags{daily: "1"}
		_, _, err := f.fields(now)
		assert.Error(t, err)
	})

	t.Run("one shot", func(t *testing.T) {
		f := &scheduleFlags{at: "+60"}
		out, ok, err := f.fields(now)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, map[string]string{"ACTION": "backup", "TIME": "+60"}, out)
	})

	t.Run("daily with repetitions", func(t *testing.T) {
		f := &scheduleFlags{at: "now", daily: "2", end: "5"}
		out, ok, err := f.fields(now)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "4", out["REPEAT"])
		assert.Equal(t, "2", out["DAYS"])
		assert.Equal(t, "1", out["END_TYPE"])
		assert.Equal(t, "5", out["END_VALUE"])
	})

	t.Run("weekly until date", func(t *testing.T) {
		f := &scheduleFlags{at: "now", weekly: "1,3", end: "2026-04-01"}
		out, _, err := f.fields(now)
		require.NoError(t, err)
		assert.Equal(t, "0", out["REPEAT"])
		assert.Equal(t, "0", out["END_TYPE"])
		assert.Equal(t, strconv.FormatInt(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC).Unix(), 10), out["END_VALUE"])
	})

	t.Run("never ends", func(t *testing.T) {
		f := &scheduleFlags{at: "now", hourly: "6"}
		out, _, err := f.fields(now)
		require.NoError(t, err)
		assert.Equal(t, "3", out["REPEAT"])
		assert.Equal(t, "-1", out["END_TYPE"])
		_, has := out["END_VALUE"]
		assert.False(t, has)
	})

	t.Run("two recurrences", func(t *testing.T) {
		f := &scheduleFlags{at: "now", daily: "1", monthly: "1"}
		_, _, err := f.fields(now)
		assert.Error(t, err)
	})

	t.Run("end without recurrence", func(t *testing.T) {
		f := &scheduleFlags{at: "now", end: "3"}
		_, _, err := f.fields(now)
		assert.Error(t, err)
	})

	t.Run("relative end", func(t *testing.T) {
		f := &scheduleFlags{at: "now", daily: "1", end: "+10"}
		_, _, err := f.fields(now)
		assert.Error(t, err)
	})
}

func TestParseFields(t *testing.T) {
	fields, err := parseFields("# job\nname = nightly\nBACKUP_VMS = \"1,2\"\n\nkeep_last=3\n")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"NAME": "nightly", "BACKUP_VMS": "1,2", "KEEP_LAST": "3"}, fields)

	_, err = parseFields("NAME nightly")
	assert.Error(t, err)

	_, err = parseFields(" = 1")
	assert.Error(t, err)
}

func TestParseIDListAndDiskSpec(t *testing.T) {
	ids, err := parseIDList("3, 1,,2")
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1, 2}, ids)

	_, err = parseIDList(",")
	assert.Error(t, err)
	_, err = parseIDList("1,x")
	assert.Error(t, err)

	d, err := parseDiskSpec("1024")
	require.NoError(t, err)
	assert.Equal(t, int64(1024), d.Size)
	assert.Equal(t, int64(-1), d.ImageID)
	assert.False(t, d.Volatile)

	d, err = parseDiskSpec("2048:7:volatile")
	require.NoError(t, err)
	assert.Equal(t, int64(7), d.ImageID)
	assert.True(t, d.Volatile)

	_, err = parseDiskSpec("0")
	assert.Error(t, err)
}

// withServer points the client at h for the duration of the test
func withServer(t *testing.T, h http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(h)
	prev := *clientEnv
	clientEnv.server = srv.URL
	clientEnv.token = "test-token"
	clientEnv.timeout = 5 * time.Second
	t.Cleanup(func() {
		srv.Close()
		*clientEnv = prev
	})
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestAPICall(t *testing.T) {
	withServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			writeJSON(w, http.StatusUnauthorized, `{"code":505,"status":false,"message":"unauthorized","kind":"AuthError"}`)
			return
		}
		switch r.URL.Path {
		case "/api/backupjobs/4":
			writeJSON(w, http.StatusOK, `{"code":1,"status":true,"message":"ok","data":{"id":4,"name":"nightly"}}`)
		case "/api/backupjobs/5/rename":
			writeJSON(w, http.StatusConflict, `{"code":4012,"status":false,"message":"backup job is locked","kind":"ConflictError","details":"USE"}`)
		default:
			writeJSON(w, http.StatusNotFound, `{"code":404,"status":false,"message":"not found"}`)
		}
	})

	var out struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	require.NoError(t, apiCall(http.MethodGet, "/api/backupjobs/4", nil, &out))
	assert.Equal(t, int64(4), out.ID)
	assert.Equal(t, "nightly", out.Name)

	err := apiCall(http.MethodPut, "/api/backupjobs/5/rename", map[string]string{"name": "x"}, nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.HTTPStatus)
	assert.Equal(t, 4012, apiErr.Code)
	assert.Equal(t, "ConflictError", apiErr.Kind)
	assert.Equal(t, "[4012] backup job is locked (ConflictError): USE", apiErr.Error())
}

func TestAPIListWalksPages(t *testing.T) {
	const total = 130
	var pages []string
	withServer(t, func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		pages = append(pages, r.URL.Query().Get("page"))
		start := (page - 1) * 100
		end := start + 100
		if end > total {
			end = total
		}
		list := "["
		for i := start; i < end; i++ {
			if i > start {
				list += ","
			}
			list += fmt.Sprintf(`{"id":%d}`, i)
		}
		list += "]"
		writeJSON(w, http.StatusOK, fmt.Sprintf(`{"code":1,"status":true,"data":{"list":%s,"pager":{"page":%d,"pageSize":100,"totalRows":%d}}}`, list, page, total))
	})

	type item struct {
		ID int64 `json:"id"`
	}
	all, err := apiList[item]("/api/images")
	require.NoError(t, err)
	require.Len(t, all, total)
	assert.Equal(t, int64(129), all[129].ID)
	assert.Equal(t, []string{"1", "2"}, pages)
}
