package supabase

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// Storage はストレージAPIのクライアントを返す。
func (c *Client) Storage() *StorageClient {
	return &StorageClient{client: c}
}

// StorageClient はストレージ操作を扱う。
type StorageClient struct {
	client *Client
}

// From はバケットのクライアントを返す。
func (s *StorageClient) From(bucket string) *BucketClient {
	return &BucketClient{client: s.client, bucket: bucket}
}

// BucketClient は1つのバケットに対する操作を扱う。
type BucketClient struct {
	client *Client
	bucket string
}

// Upload はオブジェクトをアップロードする。upsertがtrueなら既存のオブジェクトを上書きする。
func (b *BucketClient) Upload(ctx context.Context, path string, data []byte, contentType string, upsert bool) (*Response, error) {
	h := make(http.Header)
	h.Set("Content-Type", contentType)
	if upsert {
		h.Set("x-upsert", "true")
	}
	return b.client.do(ctx, http.MethodPost, "/storage/v1/object/"+b.objectPath(path), data, h)
}

// PublicURL は公開バケットのオブジェクトURLを返す。
func (b *BucketClient) PublicURL(path string) string {
	return b.client.BaseURL() + "/storage/v1/object/public/" + b.objectPath(path)
}

func (b *BucketClient) objectPath(path string) string {
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return url.PathEscape(b.bucket) + "/" + strings.Join(segments, "/")
}
