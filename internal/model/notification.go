package model

// NotificationType は通知イベントの種別を表す。
type NotificationType string

const (
	NotificationAuctionEnd      NotificationType = "AUCTION_END"
	NotificationAuctionEnd10Min NotificationType = "AUCTION_END_10MIN"
	NotificationNewBid          NotificationType = "NEW_BID"
)

// NotificationTypes は全通知種別を表示順に並べたもの。
// 設定が保存されていない種別もこの一覧を基に既定値で補完される。
var NotificationTypes = []NotificationType{
	NotificationAuctionEnd,
	NotificationAuctionEnd10Min,
	NotificationNewBid,
}

var notificationTypeDescriptions = map[NotificationType]string{
	NotificationAuctionEnd:      "オークションが終了したとき",
	NotificationAuctionEnd10Min: "オークション終了の10分前",
	NotificationNewBid:          "新しい入札があったとき",
}

// Valid は既知の通知種別かどうかを返す。
func (t NotificationType) Valid() bool {
	_, ok := notificationTypeDescriptions[t]
	return ok
}

// Description は通知種別の表示用説明を返す。
func (t NotificationType) Description() string {
	return notificationTypeDescriptions[t]
}

// NotificationAction は通知の配信方法を表す。
type NotificationAction string

const (
	NotificationActionNone      NotificationAction = "NONE"
	NotificationActionTwitterDM NotificationAction = "TWITTER_DM"
)

var notificationActionDescriptions = map[NotificationAction]string{
	NotificationActionNone:      "通知しない",
	NotificationActionTwitterDM: "TwitterのDMで通知",
}

// Valid は既知の配信方法かどうかを返す。
func (a NotificationAction) Valid() bool {
	_, ok := notificationActionDescriptions[a]
	return ok
}

// Description は配信方法の表示用説明を返す。
func (a NotificationAction) Description() string {
	return notificationActionDescriptions[a]
}

// DefaultNotificationAction は設定が保存されていない種別に適用する既定の配信方法。
// 通知はオプトインとし、既定では配信しない。
const DefaultNotificationAction = NotificationActionNone

// UserNotification はユーザーごとの通知設定を表す。
// (UserID, Type) の組で一意。
type UserNotification struct {
	UserID string
	Type   NotificationType
	Action NotificationAction
}
