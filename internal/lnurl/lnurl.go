// Package lnurl はLNURL（LUD-01）のbech32符号化とQRコード生成を提供する。
package lnurl

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
	qrcode "github.com/skip2/go-qrcode"
)

// hrp はLNURLのhuman-readable part。
const hrp = "lnurl"

// qrSize はQRコード画像の一辺のピクセル数。
const qrSize = 256

// Encode はURLをbech32符号化したLNURL文字列を返す。
// ウォレットの慣習に合わせて大文字で返す（QRコードの英数字モードが使える）。
func Encode(url string) (string, error) {
	converted, err := bech32.ConvertBits([]byte(url), 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("failed to convert bits: %w", err)
	}
	encoded, err := bech32.Encode(hrp, converted)
	if err != nil {
		return "", fmt.Errorf("failed to encode lnurl: %w", err)
	}
	return strings.ToUpper(encoded), nil
}

// Decode はLNURL文字列を元のURLに復号する。
func Decode(lnurl string) (string, error) {
	decodedHRP, data, err := bech32.DecodeNoLimit(strings.ToLower(lnurl))
	if err != nil {
		return "", fmt.Errorf("failed to decode lnurl: %w", err)
	}
	if decodedHRP != hrp {
		return "", fmt.Errorf("unexpected human-readable part: %q", decodedHRP)
	}
	converted, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", fmt.Errorf("failed to convert bits: %w", err)
	}
	return string(converted), nil
}

// QRCodeBase64 は文字列をQRコードPNGにしてbase64で返す。
// フロントエンドがdata URIとして埋め込める形式。
func QRCodeBase64(content string) (string, error) {
	png, err := qrcode.Encode(content, qrcode.Medium, qrSize)
	if err != nil {
		return "", fmt.Errorf("failed to encode qr code: %w", err)
	}
	return base64.StdEncoding.EncodeToString(png), nil
}
