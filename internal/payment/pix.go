package payment

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Идентификаторы полей BR Code (EMV QRCPS, merchant-presented mode)
const (
	pixPayloadFormat      = "00"
	pixMerchantAccount    = "26"
	pixCategoryCode       = "52"
	pixCurrency           = "53"
	pixAmount             = "54"
	pixCountryCode        = "58"
	pixMerchantName       = "59"
	pixMerchantCity       = "60"
	pixAdditionalData     = "62"
	pixCRC                = "63"
	pixGUI                = "BR.GOV.BCB.PIX"
	pixCurrencyBRL        = "986"
	pixDefaultTxID        = "***"
	maxMerchantNameLength = 25
	maxMerchantCityLength = 15
)

// PixConfig - реквизиты для статического PIX.
type PixConfig struct {
	Key      string
	Merchant string
	City     string
}

// Pix формирует статические платежные строки PIX для пожертвований.
type Pix struct {
	cfg PixConfig
}

// NewPix создает генератор PIX. Пустые имя и город заменяются значениями по умолчанию.
func NewPix(cfg PixConfig) *Pix {
	if strings.TrimSpace(cfg.Merchant) == "" {
		cfg.Merchant = "Doacao"
	}
	if strings.TrimSpace(cfg.City) == "" {
		cfg.City = "GOIANIA"
	}
	return &Pix{cfg: cfg}
}

// Key возвращает PIX-ключ получателя.
func (p *Pix) Key() string {
	return p.cfg.Key
}

// Enabled сообщает, настроен ли ключ.
func (p *Pix) Enabled() bool {
	return strings.TrimSpace(p.cfg.Key) != ""
}

// StaticPayload собирает BR Code. amountCents == 0 - сумму вводит плательщик.
func (p *Pix) StaticPayload(amountCents int64) (string, error) {
	if !p.Enabled() {
		return "", fmt.Errorf("pix-ключ не настроен")
	}
	if amountCents < 0 {
		return "", fmt.Errorf("отрицательная сумма: %d", amountCents)
	}

	var b strings.Builder
	b.WriteString(emvField(pixPayloadFormat, "01"))
	b.WriteString(emvField(pixMerchantAccount, emvField("00", pixGUI)+emvField("01", strings.TrimSpace(p.cfg.Key))))
	b.WriteString(emvField(pixCategoryCode, "0000"))
	b.WriteString(emvField(pixCurrency, pixCurrencyBRL))
	if amountCents > 0 {
		b.WriteString(emvField(pixAmount, fmt.Sprintf("%d.%02d", amountCents/100, amountCents%100)))
	}
	b.WriteString(emvField(pixCountryCode, "BR"))
	b.WriteString(emvField(pixMerchantName, sanitizeEMV(p.cfg.Merchant, maxMerchantNameLength)))
	b.WriteString(emvField(pixMerchantCity, strings.ToUpper(sanitizeEMV(p.cfg.City, maxMerchantCityLength))))
	b.WriteString(emvField(pixAdditionalData, emvField("05", pixDefaultTxID)))

	// CRC считается по всей строке, включая идентификатор и длину поля 63
	b.WriteString(pixCRC + "04")
	payload := b.String()
	return payload + fmt.Sprintf("%04X", crc16CCITT([]byte(payload))), nil
}

func emvField(id, value string) string {
	return fmt.Sprintf("%s%02d%s", id, len(value), value)
}

// sanitizeEMV убирает диакритику и непечатаемые символы, обрезает до max.
func sanitizeEMV(s string, max int) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	plain, _, err := transform.String(t, strings.TrimSpace(s))
	if err != nil {
		plain = s
	}
	out := make([]byte, 0, len(plain))
	for _, r := range plain {
		if r >= 0x20 && r < 0x7f {
			out = append(out, byte(r))
		}
		if len(out) == max {
			break
		}
	}
	return string(out)
}

// crc16CCITT - CRC-16/CCITT-FALSE (poly 0x1021, init 0xFFFF).
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
