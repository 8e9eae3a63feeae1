package downloader

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// decodeBody 按 Content-Encoding 包装响应体
//
// 支持 gzip、deflate、br;transport 关闭了自动解压,由这里统一处理。
func decodeBody(resp *http.Response) (io.Reader, error) {
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "", "identity":
		return resp.Body, nil
	case "gzip", "x-gzip":
		reader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip解压失败: %w", err)
		}
		return reader, nil
	case "deflate":
		// 多数服务端发送 zlib 包装的数据,少数发送裸 deflate
		br := bufio.NewReader(resp.Body)
		if head, err := br.Peek(2); err == nil && head[0]&0x0f == 8 && (uint16(head[0])<<8|uint16(head[1]))%31 == 0 {
			reader, err := zlib.NewReader(br)
			if err != nil {
				return nil, fmt.Errorf("deflate解压失败: %w", err)
			}
			return reader, nil
		}
		return flate.NewReader(br), nil
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return nil, fmt.Errorf("不支持的Content-Encoding: %s", encoding)
	}
}
