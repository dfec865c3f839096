// Package fileurl holds small path helpers shared by the daemon and the command line client
// Package fileurl 路径工具
package fileurl

import (
	"os"
	"path/filepath"
)

// IsDir 判断所给路径是否为文件夹
func IsDir(path string) bool {
	s, err := os.Stat(path)
	if err != nil {
		return false
	}
	return s.IsDir()
}

// IsExist reports whether path exists, a permission error counts as existing
// IsExist 判断所给路径是否存在
func IsExist(dst string) bool {
	_, err := os.Stat(dst)
	if err != nil {
		return !os.IsNotExist(err)
	}
	return true
}

// CreatePath creates the parent directory of dst
// CreatePath 创建 dst 的上级目录
func CreatePath(dst string, perm os.FileMode) error {
	return os.MkdirAll(filepath.Dir(dst), perm)
}
