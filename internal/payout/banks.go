package payout

import "strings"

// Bank is one selectable payout institution.
type Bank struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Code     string `json:"code"`
	Security bool   `json:"security"`
}

// banks carries the KFTC standard codes.
var banks = []Bank{
	{"kakao", "카카오뱅크", "090", false},
	{"kb", "KB국민", "004", false},
	{"shinhan", "신한", "088", false},
	{"woori", "우리", "020", false},
	{"hana", "하나", "081", false},
	{"nh", "NH농협", "011", false},
	{"ibk", "IBK기업", "003", false},
	{"toss", "토스뱅크", "092", false},
	{"kbank", "케이뱅크", "089", false},
	{"sc", "SC제일", "023", false},
	{"citi", "한국씨티", "027", false},
	{"kdb", "KDB산업", "002", false},

	{"daegu", "iM뱅크(대구)", "031", false},
	{"busan", "부산", "032", false},
	{"kyongnam", "경남", "039", false},
	{"gwangju", "광주", "034", false},
	{"jeonbuk", "전북", "037", false},
	{"jeju", "제주", "035", false},

	{"post", "우체국", "071", false},
	{"kfcc", "새마을금고", "045", false},
	{"cu", "신협", "048", false},
	{"suhyup", "수협", "007", false},
	{"sb", "저축은행", "050", false},
	{"sj", "산림조합", "064", false},

	{"hsbc", "HSBC", "054", false},
	{"deutsche", "도이치", "055", false},
	{"jpmorgan", "JP모간", "057", false},
	{"icbc", "중국공상", "062", false},
	{"boc", "중국", "063", false},

	{"kiwoom", "키움증권", "264", true},
	{"mirae", "미래에셋", "238", true},
	{"samsung", "삼성증권", "240", true},
	{"koreainv", "한국투자", "243", true},
	{"nhinv", "NH투자", "247", true},
	{"kbinv", "KB증권", "218", true},
	{"kakaopay", "카카오페이", "288", true},
	{"tosssec", "토스증권", "271", true},
	{"shinhaninv", "신한투자", "278", true},
	{"hanainv", "하나증권", "270", true},
	{"hyundai", "현대차", "263", true},
	{"daishin", "대신증권", "267", true},
	{"meritz", "메리츠", "287", true},
	{"yuanta", "유안타", "209", true},
	{"eugene", "유진투자", "280", true},
	{"hanwha", "한화투자", "269", true},
	{"db", "DB금융", "279", true},
	{"kyobo", "교보증권", "261", true},
	{"bookook", "부국증권", "290", true},
	{"shinyoung", "신영증권", "291", true},
	{"sk", "SK증권", "266", true},
	{"cape", "케이프", "292", true},
	{"bnkinv", "BNK투자", "224", true},
	{"ibkinv", "IBK투자", "225", true},
}

var bankIndex = func() map[string]Bank {
	m := make(map[string]Bank, len(banks)*3)
	for _, b := range banks {
		m[b.Key] = b
		m[b.Name] = b
		m[b.Code] = b
	}
	return m
}()

// Banks returns the supported institutions in display order.
func Banks() []Bank {
	out := make([]Bank, len(banks))
	copy(out, banks)
	return out
}

// LookupBank accepts a key ("kakao"), a display name ("카카오뱅크") or a
// three digit code ("090").
func LookupBank(s string) (Bank, bool) {
	s = strings.TrimSpace(s)
	if b, ok := bankIndex[s]; ok {
		return b, true
	}
	b, ok := bankIndex[strings.ToLower(s)]
	return b, ok
}
