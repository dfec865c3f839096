package util

import (
	"golang.org/x/crypto/bcrypt"
)

// passwordCost bcrypt 计算成本
const passwordCost = 10

// GeneratePasswordHash 生成密码的 bcrypt 哈希值
func GeneratePasswordHash(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	return string(bytes), err
}

// CheckPasswordHash reports whether password matches the stored bcrypt hash
// CheckPasswordHash 验证密码与哈希值是否匹配
func CheckPasswordHash(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
