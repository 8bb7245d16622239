// Package storage は画像のダウンロードとオブジェクトストレージへの保存を提供する。
//
// Twitterが返す画像URL（告知ツイートの写真、プロフィール画像）は外部入力として扱い、
// SSRF防止クライアントでダウンロードした上でSupabase Storageに保存する。
// フロントエンドにはストレージの公開URLを返し、Twitterのホスト名を露出させない。
package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	storage_go "github.com/supabase-community/storage-go"

	"github.com/chandlerchaos/plebeian-market/internal/security"
)

// BlobStoreService は画像の取得・保存機能のインターフェースを定義する。
type BlobStoreService interface {
	// FetchAndStore はsourceURLから画像をダウンロードし、keyで保存して公開URLを返す。
	// sourceURLはダウンロード前にSSRF検証される。
	// 同一keyへの再保存は上書きされる（アクティベーションの再実行で安全）。
	FetchAndStore(ctx context.Context, sourceURL, key string) (string, error)
}

// Config はBlobStoreの設定。
type Config struct {
	StorageURL    string
	StorageAPIKey string
	Bucket        string
	FetchTimeout  time.Duration
	FetchMaxSize  int64
}

// blobStore はBlobStoreServiceの実装。
type blobStore struct {
	client  *storage_go.Client
	bucket  string
	guard   security.SSRFGuardService
	fetcher *http.Client
	maxSize int64
}

// NewBlobStore はBlobStoreServiceの新しいインスタンスを生成する。
// ダウンロードにはSSRF防止付きHTTPクライアントを使用する。
func NewBlobStore(cfg Config, guard security.SSRFGuardService) *blobStore {
	return &blobStore{
		client:  storage_go.NewClient(cfg.StorageURL, cfg.StorageAPIKey, nil),
		bucket:  cfg.Bucket,
		guard:   guard,
		fetcher: guard.NewSafeClient(cfg.FetchTimeout, cfg.FetchMaxSize),
		maxSize: cfg.FetchMaxSize,
	}
}

// FetchAndStore はsourceURLから画像をダウンロードし、keyで保存して公開URLを返す。
func (s *blobStore) FetchAndStore(ctx context.Context, sourceURL, key string) (string, error) {
	if err := s.guard.ValidateURL(sourceURL); err != nil {
		return "", fmt.Errorf("unsafe image URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build image request: %w", err)
	}

	resp, err := s.fetcher.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status fetching image: %d", resp.StatusCode)
	}

	// サイズ上限を超えるレスポンスは途中で打ち切る
	body := io.LimitReader(resp.Body, s.maxSize)

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	upsert := true

	_, err = s.client.UploadFile(s.bucket, key, body, storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}

	public := s.client.GetPublicUrl(s.bucket, key)
	return public.SignedURL, nil
}

// compile-time interface check
var _ BlobStoreService = (*blobStore)(nil)
