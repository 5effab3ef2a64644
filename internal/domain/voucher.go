package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// VoucherType identifies an issuer product. The set is closed; anything else
// arriving from a client is an unregistered type.
type VoucherType string

const (
	VoucherCultureLand VoucherType = "CULTURE_LAND"
	VoucherCultureExch VoucherType = "CULTURE_EXCH"
	VoucherCultureCash VoucherType = "CULTURE_CASH"
	VoucherBooknLife   VoucherType = "BOOK_NLIFE"
	VoucherBookExch    VoucherType = "BOOK_EXCH"
	VoucherLotte       VoucherType = "LOTTE"
	VoucherShinsegae   VoucherType = "SHINSEGAE"
	VoucherHappyMoney  VoucherType = "HAPPY_MONEY"
	VoucherHappyExch   VoucherType = "HAPPY_EXCH"
	VoucherGoogleGift  VoucherType = "GOOGLE_GIFT"
	VoucherStarbucks   VoucherType = "STARBUCKS"
	VoucherNaverPay    VoucherType = "NAVER_PAY"
	VoucherTeenCash    VoucherType = "TEEN_CASH"
)

// Provider is the issuer portal a voucher is checked against.
type Provider string

const (
	ProviderCultureLand Provider = "cultureland"
	ProviderHappyMoney  Provider = "happymoney"
	ProviderTeencash    Provider = "teencash"
	ProviderGoogle      Provider = "google"
	ProviderStarbucks   Provider = "starbucks"
	ProviderLotte       Provider = "lotte"
	ProviderShinsegae   Provider = "shinsegae"
	ProviderBooknLife   Provider = "booknlife"
	ProviderMock        Provider = "mock"
	ProviderNone        Provider = ""
)

// Providers lists every real issuer provider.
var Providers = []Provider{
	ProviderCultureLand,
	ProviderHappyMoney,
	ProviderTeencash,
	ProviderGoogle,
	ProviderStarbucks,
	ProviderLotte,
	ProviderShinsegae,
	ProviderBooknLife,
}

// VoucherInfo is the catalogue entry for one voucher type.
type VoucherInfo struct {
	Type        VoucherType
	DisplayName string
	Provider    Provider
	BuyRate     decimal.Decimal
}

var catalogue = []VoucherInfo{
	{VoucherCultureLand, "컬쳐랜드", ProviderCultureLand, decimal.RequireFromString("0.90")},
	{VoucherCultureExch, "컬쳐랜드 교환권", ProviderCultureLand, decimal.RequireFromString("0.88")},
	{VoucherCultureCash, "문화상품권 캐시", ProviderCultureLand, decimal.RequireFromString("0.88")},
	{VoucherBooknLife, "북앤라이프", ProviderBooknLife, decimal.RequireFromString("0.89")},
	{VoucherBookExch, "북앤라이프 교환권", ProviderBooknLife, decimal.RequireFromString("0.87")},
	{VoucherLotte, "롯데상품권", ProviderLotte, decimal.RequireFromString("0.92")},
	{VoucherShinsegae, "신세계상품권", ProviderShinsegae, decimal.RequireFromString("0.93")},
	{VoucherHappyMoney, "해피머니", ProviderHappyMoney, decimal.RequireFromString("0.90")},
	{VoucherHappyExch, "해피머니 교환권", ProviderHappyMoney, decimal.RequireFromString("0.88")},
	{VoucherGoogleGift, "구글 기프트카드", ProviderGoogle, decimal.RequireFromString("0.85")},
	{VoucherStarbucks, "스타벅스 e카드", ProviderStarbucks, decimal.RequireFromString("0.87")},
	{VoucherNaverPay, "네이버페이", ProviderNone, decimal.RequireFromString("0.90")},
	{VoucherTeenCash, "틴캐시", ProviderTeencash, decimal.RequireFromString("0.86")},
}

// Catalogue returns a copy of every known voucher type in display order.
func Catalogue() []VoucherInfo {
	out := make([]VoucherInfo, len(catalogue))
	copy(out, catalogue)
	return out
}

// Lookup returns the catalogue entry for t.
func Lookup(t VoucherType) (VoucherInfo, bool) {
	for _, info := range catalogue {
		if info.Type == t {
			return info, true
		}
	}
	return VoucherInfo{}, false
}

// ParseVoucherType normalizes raw client input and reports whether it names a
// catalogue entry.
func ParseVoucherType(raw string) (VoucherType, bool) {
	t := VoucherType(strings.ToUpper(strings.TrimSpace(raw)))
	_, ok := Lookup(t)
	return t, ok
}

func (t VoucherType) String() string { return string(t) }
