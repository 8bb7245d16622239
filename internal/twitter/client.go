// Package twitter はTwitter API v2との連携機能を提供する。
// プロフィール確認、オークション告知ツイートの検索、いいね検証に使用される。
package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Profile はTwitterユーザーのプロフィール情報。
type Profile struct {
	ID              string
	Username        string
	ProfileImageURL string
	PinnedTweetID   string
}

// Photo はツイートに添付された写真。
type Photo struct {
	MediaKey string
	URL      string
}

// AuctionTweet はオークションURLを含む告知ツイート。
type AuctionTweet struct {
	ID         string
	CreatedAt  time.Time
	AuctionKey string
	Photos     []Photo
}

// ClientService はTwitter連携機能のインターフェースを定義する。
type ClientService interface {
	// GetProfile はユーザー名からプロフィールを取得する。
	// ユーザーが存在しない場合はnilを返す。
	GetProfile(ctx context.Context, username string) (*Profile, error)

	// GetAuctionTweets はユーザーの最近のツイートからオークションURLを含むものを返す。
	// 各ツイートについて、URL中のオークションキーと添付写真を抽出する。
	GetAuctionTweets(ctx context.Context, userID string) ([]AuctionTweet, error)

	// HasLiked はユーザーが指定ツイートにいいねしているかを返す。
	HasLiked(ctx context.Context, tweetID, username string) (bool, error)
}

// defaultBaseURL はTwitter API v2のエンドポイント。
const defaultBaseURL = "https://api.twitter.com"

// auctionURLMarker は告知ツイート中のオークションURLの目印。
// この直後のパスセグメントをオークションキーとして抽出する。
const auctionURLMarker = "plebeian.market/auction/"

// Client はTwitter API v2のクライアント。
type Client struct {
	httpClient  *http.Client
	logger      *slog.Logger
	bearerToken string
	baseURL     string // テスト用にエンドポイントを差し替え可能
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, bearerToken string) *Client {
	return &Client{
		httpClient:  httpClient,
		logger:      logger,
		bearerToken: bearerToken,
		baseURL:     defaultBaseURL,
	}
}

// get はTwitter APIへの認証付きGETを実行し、レスポンスボディを返す。
// 404はツイート・ユーザー不在を表すため(nil, nil)を返す。
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.bearerToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Twitter APIの呼び出しに失敗しました",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Twitter APIがエラーステータスを返しました",
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("Twitter APIがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}
	return body, nil
}

// GetProfile はユーザー名からプロフィールを取得する。
func (c *Client) GetProfile(ctx context.Context, username string) (*Profile, error) {
	query := url.Values{}
	query.Set("user.fields", "profile_image_url,pinned_tweet_id")

	body, err := c.get(ctx, "/2/users/by/username/"+url.PathEscape(username), query)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}

	var result struct {
		Data *struct {
			ID              string `json:"id"`
			Username        string `json:"username"`
			ProfileImageURL string `json:"profile_image_url"`
			PinnedTweetID   string `json:"pinned_tweet_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	if result.Data == nil {
		return nil, nil
	}

	return &Profile{
		ID:              result.Data.ID,
		Username:        result.Data.Username,
		ProfileImageURL: result.Data.ProfileImageURL,
		PinnedTweetID:   result.Data.PinnedTweetID,
	}, nil
}

// tweetsResponse はユーザータイムライン取得のレスポンス。
type tweetsResponse struct {
	Data []struct {
		ID          string    `json:"id"`
		Text        string    `json:"text"`
		CreatedAt   time.Time `json:"created_at"`
		Attachments struct {
			MediaKeys []string `json:"media_keys"`
		} `json:"attachments"`
		Entities struct {
			URLs []struct {
				ExpandedURL string `json:"expanded_url"`
			} `json:"urls"`
		} `json:"entities"`
	} `json:"data"`
	Includes struct {
		Media []struct {
			MediaKey string `json:"media_key"`
			Type     string `json:"type"`
			URL      string `json:"url"`
		} `json:"media"`
	} `json:"includes"`
}

// GetAuctionTweets はユーザーの最近のツイートからオークションURLを含むものを返す。
func (c *Client) GetAuctionTweets(ctx context.Context, userID string) ([]AuctionTweet, error) {
	query := url.Values{}
	query.Set("expansions", "attachments.media_keys")
	query.Set("media.fields", "media_key,type,url")
	query.Set("tweet.fields", "created_at,entities,attachments")
	query.Set("max_results", "100")

	body, err := c.get(ctx, "/2/users/"+url.PathEscape(userID)+"/tweets", query)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}

	var result tweetsResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	// media_key → 写真URLの索引。写真以外のメディアは無視する。
	photosByKey := make(map[string]Photo, len(result.Includes.Media))
	for _, m := range result.Includes.Media {
		if m.Type != "photo" {
			continue
		}
		photosByKey[m.MediaKey] = Photo{MediaKey: m.MediaKey, URL: m.URL}
	}

	var tweets []AuctionTweet
	for _, tw := range result.Data {
		key := extractAuctionKey(tw.Entities.URLs, tw.Text)
		if key == "" {
			continue
		}

		tweet := AuctionTweet{
			ID:         tw.ID,
			CreatedAt:  tw.CreatedAt,
			AuctionKey: key,
		}
		for _, mk := range tw.Attachments.MediaKeys {
			if photo, ok := photosByKey[mk]; ok {
				tweet.Photos = append(tweet.Photos, photo)
			}
		}
		tweets = append(tweets, tweet)
	}

	return tweets, nil
}

// extractAuctionKey はツイートのURLエンティティまたは本文からオークションキーを抽出する。
func extractAuctionKey(urls []struct {
	ExpandedURL string `json:"expanded_url"`
}, text string) string {
	for _, u := range urls {
		if key := keyFromURL(u.ExpandedURL); key != "" {
			return key
		}
	}
	// t.co短縮を挟まない素のURLが本文に残っている場合
	return keyFromURL(text)
}

// keyFromURL はオークションURLの目印以降の最初のパスセグメントを返す。
func keyFromURL(s string) string {
	idx := strings.Index(s, auctionURLMarker)
	if idx < 0 {
		return ""
	}
	rest := s[idx+len(auctionURLMarker):]
	end := strings.IndexFunc(rest, func(r rune) bool {
		return r == '/' || r == '?' || r == '#' || r == ' ' || r == '\n'
	})
	if end >= 0 {
		rest = rest[:end]
	}
	return rest
}

// likingUsersResponse はいいねユーザー取得のレスポンス。
type likingUsersResponse struct {
	Data []struct {
		Username string `json:"username"`
	} `json:"data"`
}

// HasLiked はユーザーが指定ツイートにいいねしているかを返す。
func (c *Client) HasLiked(ctx context.Context, tweetID, username string) (bool, error) {
	body, err := c.get(ctx, "/2/tweets/"+url.PathEscape(tweetID)+"/liking_users", nil)
	if err != nil {
		return false, err
	}
	if body == nil {
		return false, nil
	}

	var result likingUsersResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return false, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	for _, u := range result.Data {
		if strings.EqualFold(u.Username, username) {
			return true, nil
		}
	}
	return false, nil
}

// compile-time interface check
var _ ClientService = (*Client)(nil)
