package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/haierkeys/vm-backup-service/pkg/fileurl"

	"github.com/bytedance/sonic"
	"github.com/imroc/req/v3"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const (
	// DefaultServer 默认 API 地址，可用 VMBACKUP_URL 覆盖
	DefaultServer = "http://127.0.0.1:9100"
	authDir       = ".vmbackup"
	authFileName  = "auth"
)

// clientFlags 客户端公共参数
type clientFlags struct {
	server  string
	token   string
	timeout time.Duration
	json    bool
}

var clientEnv = &clientFlags{}

func init() {
	server := os.Getenv("VMBACKUP_URL")
	if server == "" {
		server = DefaultServer
	}
	fs := rootCmd.PersistentFlags()
	fs.StringVar(&clientEnv.server, "server", server, "API server address")
	fs.StringVar(&clientEnv.token, "token", "", "API token, defaults to the one saved by login")
	fs.DurationVar(&clientEnv.timeout, "timeout", 2*time.Hour, "request timeout")
}

// apiResponse 服务端统一响应
type apiResponse struct {
	Code    int             `json:"code"`
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Kind    string          `json:"kind"`
	Data    json.RawMessage `json:"data"`
	Details string          `json:"details"`
}

// APIError is returned for every non-success API response
// APIError 非成功响应
type APIError struct {
	HTTPStatus int
	Code       int
	Kind       string
	Message    string
	Details    string
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s", e.Code, e.Message)
	if e.Kind != "" {
		fmt.Fprintf(&b, " (%s)", e.Kind)
	}
	if e.Details != "" {
		b.WriteString(": ")
		b.WriteString(e.Details)
	}
	return b.String()
}

// authFilePath ~/.vmbackup/auth
func authFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "locate home directory")
	}
	return filepath.Join(home, authDir, authFileName), nil
}

func saveToken(token string) (string, error) {
	path, err := authFilePath()
	if err != nil {
		return "", err
	}
	if err := fileurl.CreatePath(path, 0700); err != nil {
		return "", errors.Wrap(err, "create auth directory")
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0600); err != nil {
		return "", errors.Wrap(err, "write auth file")
	}
	return path, nil
}

func loadToken() string {
	if clientEnv.token != "" {
		return clientEnv.token
	}
	path, err := authFilePath()
	if err != nil || !fileurl.IsExist(path) {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func newAPIClient() *req.Client {
	c := req.C().
		SetBaseURL(strings.TrimRight(clientEnv.server, "/")).
		SetTimeout(clientEnv.timeout).
		SetCommonHeader("Accept", "application/json").
		SetUserAgent("vmbackup-cli")
	if token := loadToken(); token != "" {
		c.SetCommonBearerAuthToken(token)
	}
	return c
}

// apiCall sends one request and decodes data into out when out is not nil
// apiCall 发送请求，out 非空时解析 data
func apiCall(method, path string, body, out interface{}) error {
	var res apiResponse
	r := newAPIClient().R().SetSuccessResult(&res).SetErrorResult(&res)
	if body != nil {
		r.SetBody(body)
	}
	resp, err := r.Send(method, path)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	if !res.Status {
		msg := res.Message
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{
			HTTPStatus: resp.GetStatusCode(),
			Code:       res.Code,
			Kind:       res.Kind,
			Message:    msg,
			Details:    res.Details,
		}
	}
	if out != nil && len(res.Data) > 0 && string(res.Data) != "null" {
		if err := sonic.Unmarshal(res.Data, out); err != nil {
			return errors.Wrap(err, "decode response")
		}
	}
	return nil
}

// listData 列表响应的 data
type listData[T any] struct {
	List  []T `json:"list"`
	Pager struct {
		PageSize  int `json:"pageSize"`
		TotalRows int `json:"totalRows"`
	} `json:"pager"`
}

// apiList walks every page of a list endpoint
// apiList 读取列表接口的全部分页
func apiList[T any](path string) ([]T, error) {
	var all []T
	for page := 1; ; page++ {
		var out listData[T]
		if err := apiCall("GET", fmt.Sprintf("%s?page=%d&pageSize=100", path, page), nil, &out); err != nil {
			return nil, err
		}
		all = append(all, out.List...)
		if len(out.List) == 0 || len(all) >= out.Pager.TotalRows {
			return all, nil
		}
	}
}

// ---------------- output ----------------

func printJSON(w io.Writer, v interface{}) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printTable(w io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.AppendBulk(rows)
	table.Render()
}

// printAttrs prints KEY : VALUE pairs in order
func printAttrs(w io.Writer, title string, pairs [][2]string) {
	if title != "" {
		fmt.Fprintf(w, "%s\n", title)
	}
	for _, p := range pairs {
		fmt.Fprintf(w, "%-24s: %s\n", p[0], p[1])
	}
}

func addJSONFlag(c *cobra.Command) {
	c.Flags().BoolVar(&clientEnv.json, "json", false, "print JSON")
}

// ---------------- argument helpers ----------------

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// parseIDList parses "1,2,3"
func parseIDList(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		id, err := parseID(part)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no id given")
	}
	return ids, nil
}

// readTemplate reads a template file, "-" reads stdin
func readTemplate(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", errors.Wrapf(err, "read %s", path)
	}
	return string(data), nil
}

// parseFields reads KEY = VALUE lines, blank lines and # comments are skipped
// parseFields 解析 KEY = VALUE 行
func parseFields(text string) (map[string]string, error) {
	fields := map[string]string{}
	for n, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, fmt.Errorf("line %d: expected KEY = VALUE", n+1)
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		value = strings.Trim(strings.TrimSpace(value), `"`)
		if key == "" {
			return nil, fmt.Errorf("line %d: empty key", n+1)
		}
		fields[key] = value
	}
	return fields, nil
}

func formatTime(epoch int64) string {
	if epoch <= 0 {
		return "-"
	}
	return time.Unix(epoch, 0).Format("2006-01-02 15:04:05")
}

func joinIDs(ids []int64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, ",")
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
