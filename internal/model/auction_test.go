package model

import (
	"testing"
	"time"
)

// GenerateAuctionKeyが決定的であることを検証
func TestGenerateAuctionKey_Deterministic(t *testing.T) {
	for _, count := range []int64{0, 1, 31, 32, 1000, 99999} {
		a := GenerateAuctionKey(count)
		b := GenerateAuctionKey(count)
		if a != b {
			t.Errorf("GenerateAuctionKey(%d) not deterministic: %q vs %q", count, a, b)
		}
		if a == "" {
			t.Errorf("GenerateAuctionKey(%d) returned empty key", count)
		}
	}
}

// 異なるカウントから異なるキーが生成されることを検証（衝突なし）
func TestGenerateAuctionKey_NoCollisions(t *testing.T) {
	seen := make(map[string]int64)
	for count := int64(0); count < 10000; count++ {
		key := GenerateAuctionKey(count)
		if prev, ok := seen[key]; ok {
			t.Fatalf("key collision: count %d and %d both produce %q", prev, count, key)
		}
		seen[key] = count
	}
}

// キーに紛らわしい文字が含まれないことを検証
func TestGenerateAuctionKey_Alphabet(t *testing.T) {
	key := GenerateAuctionKey(123456)
	for _, r := range key {
		switch r {
		case '0', '1', 'l', 'o':
			t.Errorf("key %q contains ambiguous character %q", key, r)
		}
	}
}

// アクティベーション前のオークションはstarted/endedともにfalseであることを検証
func TestAuction_StartedEnded_Draft(t *testing.T) {
	a := &Auction{}
	now := time.Now()
	if a.Started(now) {
		t.Error("draft auction should not be started")
	}
	if a.Ended(now) {
		t.Error("draft auction should not be ended")
	}
}

// 開催期間中はstarted=true, ended=falseであることを検証
func TestAuction_StartedEnded_Active(t *testing.T) {
	now := time.Now()
	start := now.Add(-1 * time.Hour)
	end := now.Add(1 * time.Hour)
	a := &Auction{StartDate: &start, EndDate: &end}

	if !a.Started(now) {
		t.Error("active auction should be started")
	}
	if a.Ended(now) {
		t.Error("active auction should not be ended")
	}

	after := end.Add(time.Minute)
	if !a.Ended(after) {
		t.Error("auction past end date should be ended")
	}
}

// SettlementStartedの判定を検証
func TestAuction_SettlementStarted(t *testing.T) {
	a := &Auction{}
	if a.SettlementStarted() {
		t.Error("fresh auction should not have settlement started")
	}

	a.ContributionPaymentRequest = "lnbc1..."
	if !a.SettlementStarted() {
		t.Error("auction with contribution invoice should have settlement started")
	}

	b := &Auction{WinningBidID: "bid-1"}
	if !b.SettlementStarted() {
		t.Error("auction with winning bid should have settlement started")
	}
}

// FeaturedStateとnullable booleanの相互変換を検証
func TestFeaturedState_BoolPtrRoundTrip(t *testing.T) {
	for _, s := range []FeaturedState{FeaturedAuto, FeaturedYes, FeaturedNo} {
		if got := FeaturedStateFromBoolPtr(s.BoolPtr()); got != s {
			t.Errorf("round trip for %v returned %v", s, got)
		}
	}
}

// LoginChallengeの失効判定を検証
func TestLoginChallenge_ExpiredAt(t *testing.T) {
	created := time.Now()
	c := &LoginChallenge{K1: "abc", CreatedAt: created}

	if c.ExpiredAt(created.Add(5*time.Minute), 10*time.Minute) {
		t.Error("challenge should not be expired before TTL")
	}
	if !c.ExpiredAt(created.Add(11*time.Minute), 10*time.Minute) {
		t.Error("challenge should be expired after TTL")
	}
}
