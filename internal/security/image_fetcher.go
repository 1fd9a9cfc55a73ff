package security

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ErrNotImage は取得したコンテンツが画像ではないことを示す。
var ErrNotImage = errors.New("remote content is not an image")

// ErrImageTooLarge は画像サイズが上限を超えたことを示す。
var ErrImageTooLarge = errors.New("remote image exceeds size limit")

// Image はプロキシ配信する画像データ。
type Image struct {
	ContentType string
	Data        []byte
}

// ImageFetcher はユーザーが指定した外部URL（アバター画像）をSSRF防止付きで取得する。
// safeurlはnet.DialerのControlフックでDNS解決後のIPアドレスを検証するため、
// プライベートIP、ループバック、メタデータIPへの接続やDNS再バインディングを防げる。
type ImageFetcher struct {
	client  *http.Client
	maxSize int64
}

// NewImageFetcher はImageFetcherを生成する。
func NewImageFetcher(timeout time.Duration, maxSize int64) *ImageFetcher {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()

	return &ImageFetcher{
		client:  safeurl.Client(config).Client,
		maxSize: maxSize,
	}
}

// Fetch は画像を取得する。image/* 以外のContent-Typeやサイズ超過はエラーとする。
func (f *ImageFetcher) Fetch(ctx context.Context, rawURL string) (*Image, error) {
	if err := ValidateImageURL(rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create image request: %w", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("image request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image request returned status %d", resp.StatusCode)
	}

	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "image/") || mediaType == "image/svg+xml" {
		return nil, ErrNotImage
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image body: %w", err)
	}
	if int64(len(data)) > f.maxSize {
		return nil, ErrImageTooLarge
	}

	slog.Debug("avatar image fetched",
		slog.String("host", req.URL.Hostname()),
		slog.Int("bytes", len(data)),
	)

	return &Image{ContentType: mediaType, Data: data}, nil
}

// ValidateImageURL はDNS解決を伴わない静的な検証を行う。
// httpsの絶対URLで、ホストがIPリテラルの場合は公開アドレスであることを要求する。
// DNS解決後のアドレスはsafeurlのクライアント側で検証される。
func ValidateImageURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if !strings.EqualFold(parsed.Scheme, "https") {
		return fmt.Errorf("disallowed scheme: %q", parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}

	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
			ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("blocked IP address: %s", ip)
		}
	}
	return nil
}
