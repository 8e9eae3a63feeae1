package server

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// 下载链接校验错误
var (
	ErrLinkExpired   = errors.New("下载链接已过期")
	ErrLinkSignature = errors.New("下载链接签名无效")
)

// LinkSigner 生成和校验有时效的下载链接
//
// 签名内容为 "文件名\n过期时间戳",使用 HMAC-SHA256。
type LinkSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewLinkSigner 创建签名器;secret 为空时随机生成,重启后旧链接失效
func NewLinkSigner(secret string, ttl time.Duration) *LinkSigner {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			panic("生成链接密钥失败: " + err.Error())
		}
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &LinkSigner{secret: key, ttl: ttl, now: time.Now}
}

// Sign 返回过期时间戳和签名
func (ls *LinkSigner) Sign(name string) (int64, string) {
	exp := ls.now().Add(ls.ttl).Unix()
	return exp, ls.signature(name, exp)
}

// URL 生成完整下载地址
func (ls *LinkSigner) URL(baseURL, name string) string {
	exp, sig := ls.Sign(name)
	q := url.Values{}
	q.Set("exp", strconv.FormatInt(exp, 10))
	q.Set("sig", sig)
	return strings.TrimRight(baseURL, "/") + "/files/" + url.PathEscape(name) + "?" + q.Encode()
}

// Verify 校验签名和有效期
func (ls *LinkSigner) Verify(name, exp, sig string) error {
	expUnix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return ErrLinkSignature
	}
	decoded, err := hex.DecodeString(sig)
	if err != nil {
		return ErrLinkSignature
	}
	mac := hmac.New(sha256.New, ls.secret)
	mac.Write([]byte(name + "\n" + exp))
	if !hmac.Equal(mac.Sum(nil), decoded) {
		return ErrLinkSignature
	}
	if ls.now().Unix() > expUnix {
		return ErrLinkExpired
	}
	return nil
}

func (ls *LinkSigner) signature(name string, exp int64) string {
	mac := hmac.New(sha256.New, ls.secret)
	mac.Write([]byte(name + "\n" + strconv.FormatInt(exp, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}
