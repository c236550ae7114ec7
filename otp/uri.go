package otp

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"

	qrcode "github.com/skip2/go-qrcode"
)

// QRSize is the default edge length, in pixels, of provisioning QR codes.
const QRSize = 256

// ProvisioningURI builds the otpauth:// URI authenticator apps scan.
func ProvisioningURI(secret, issuer, account string) string {
	label := url.PathEscape(issuer + ":" + account)
	values := url.Values{}
	values.Set("secret", secret)
	values.Set("issuer", issuer)
	values.Set("algorithm", "SHA1")
	values.Set("digits", strconv.Itoa(Digits))
	values.Set("period", strconv.Itoa(Period))
	return "otpauth://totp/" + label + "?" + values.Encode()
}

// QRCodePNG renders uri as a PNG QR code of size×size pixels.
func QRCodePNG(uri string, size int) ([]byte, error) {
	png, err := qrcode.Encode(uri, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encoding qr code: %w", err)
	}
	return png, nil
}

// QRCodeDataURL renders uri as a data: URL suitable for an <img> src.
func QRCodeDataURL(uri string) (string, error) {
	png, err := QRCodePNG(uri, QRSize)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
