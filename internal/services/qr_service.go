package services

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
)

// PixQRService renders PIX "copia e cola" payloads (EMV BR Code) and their
// QR images.
type PixQRService struct {
	pixKey       string
	merchantName string
	merchantCity string
}

func NewPixQRService(pixKey, merchantName, merchantCity string) *PixQRService {
	return &PixQRService{
		pixKey:       pixKey,
		merchantName: merchantName,
		merchantCity: merchantCity,
	}
}

// GenerateQRCode returns the BR Code payload and a base64 PNG of it.
func (s *PixQRService) GenerateQRCode(amount decimal.Decimal, txid string) (string, string, error) {
	payload := s.BuildPayload(amount, txid)

	png, err := qrcode.Encode(payload, qrcode.Medium, 256)
	if err != nil {
		return "", "", err
	}
	return payload, base64.StdEncoding.EncodeToString(png), nil
}

// BuildPayload assembles the EMV TLV fields and appends the CRC16 field.
func (s *PixQRService) BuildPayload(amount decimal.Decimal, txid string) string {
	merchantAccount := emvField("00", "br.gov.bcb.pix") + emvField("01", s.pixKey)

	var b strings.Builder
	b.WriteString(emvField("00", "01"))
	b.WriteString(emvField("01", "12"))
	b.WriteString(emvField("26", merchantAccount))
	b.WriteString(emvField("52", "0000"))
	b.WriteString(emvField("53", "986"))
	b.WriteString(emvField("54", amount.StringFixed(2)))
	b.WriteString(emvField("58", "BR"))
	b.WriteString(emvField("59", truncate(emvText(s.merchantName), 25)))
	b.WriteString(emvField("60", truncate(emvText(s.merchantCity), 15)))
	b.WriteString(emvField("62", emvField("05", truncate(txid, 25))))
	b.WriteString("6304")

	payload := b.String()
	return payload + fmt.Sprintf("%04X", crc16CCITT([]byte(payload)))
}

func emvField(id, value string) string {
	return fmt.Sprintf("%s%02d%s", id, len(value), value)
}

// emvText keeps the upper-case ASCII subset BR Code readers accept.
func emvText(s string) string {
	return strings.ToUpper(normalizeText(s))
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// crc16CCITT is CRC-16/CCITT-FALSE (poly 0x1021, init 0xFFFF).
func crc16CCITT(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
