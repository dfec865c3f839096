package util

import (
	"crypto/rand"
	"math/big"
)

const randomCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GetRandomString returns an alphanumeric string drawn from crypto/rand, used for token keys and generated passwords
// GetRandomString 生成指定长度的随机字符串，用于令牌密钥与初始密码
func GetRandomString(length int) string {
	if length <= 0 {
		return ""
	}
	max := big.NewInt(int64(len(randomCharset)))
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		b[i] = randomCharset[n.Int64()]
	}
	return string(b)
}
