package zalo

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// DecodeImage decodes the base64 PNG data URL the generate step
// returns (data:image/png;base64,...). A bare base64 string without
// the data-URL prefix is accepted too.
func DecodeImage(dataURL string) ([]byte, error) {
	b64 := dataURL
	if idx := strings.Index(b64, "base64,"); idx >= 0 {
		b64 = b64[idx+len("base64,"):]
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode qr image: %w", err)
	}
	return raw, nil
}

// WritePNG saves the login QR to path. The server-rendered image is
// authoritative; when the response carried only a code and no image,
// a locally rendered QR of the code is written as a fallback.
func WritePNG(path string, qr *QRCode) error {
	if qr.Image != "" {
		raw, err := DecodeImage(qr.Image)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, raw, 0o600); err != nil {
			return fmt.Errorf("write qr image: %w", err)
		}
		return nil
	}

	if err := qrcode.WriteFile(qr.Code, qrcode.Medium, 256, path); err != nil {
		return fmt.Errorf("render qr fallback: %w", err)
	}
	return nil
}

// RenderTerminal writes an ANSI half-block rendering of content as a QR
// code, for operators running the login flow in a terminal that cannot
// display the server's PNG.
func RenderTerminal(w io.Writer, content string) error {
	code, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("render qr: %w", err)
	}

	bitmap := code.Bitmap()
	for y := 0; y < len(bitmap); y += 2 {
		for x := range bitmap[y] {
			top := bitmap[y][x]
			bottom := y+1 < len(bitmap) && bitmap[y+1][x]
			switch {
			case top && bottom:
				fmt.Fprint(w, "█")
			case top:
				fmt.Fprint(w, "▀")
			case bottom:
				fmt.Fprint(w, "▄")
			default:
				fmt.Fprint(w, " ")
			}
		}
		fmt.Fprintln(w)
	}
	return nil
}
