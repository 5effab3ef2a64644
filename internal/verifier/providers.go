package verifier

import (
	"regexp"

	"voucher_backend/internal/domain"
)

var (
	mobileDevice = Device{
		UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1",
		Width:     375,
		Height:    812,
		Mobile:    true,
	}
	desktopDevice = Device{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Width:     1280,
		Height:    800,
	}
)

const visibleTextInputs = "input[type='text'], input[type='tel'], input[type='number'], input[type='password']"

// Portals returns the built-in profile for every browser-driven provider.
func Portals() map[domain.Provider]Portal {
	return map[domain.Provider]Portal{
		domain.ProviderCultureLand: CultureLandPortal(),
		domain.ProviderBooknLife:   BooknLifePortal(),
		domain.ProviderGoogle:      GooglePortal(),
		domain.ProviderStarbucks:   StarbucksPortal(),
		domain.ProviderTeencash:    TeencashPortal(),
		domain.ProviderLotte:       LottePortal(),
		domain.ProviderShinsegae:   ShinsegaePortal(),
	}
}

func CultureLandPortal() Portal {
	return Portal{
		Provider: domain.ProviderCultureLand,
		Device:   mobileDevice,
		Login: LoginForm{
			URL:              "https://m.cultureland.co.kr/mmb/loginMain.do",
			UserSelector:     "#txtUserId",
			PasswordSelector: "#passwd",
			SubmitSelector:   "#btnLogin",
			FailURLMarkers:   []string{"loginMain.do"},
		},
		TargetURL: "https://m.cultureland.co.kr/vchr/voucherUsageGiftM.do",
		Pin: PinForm{
			Segments:  []int{4, 4, 4, 0},
			Selector:  visibleTextInputs,
			MinDigits: 16,
		},
		Submit: SubmitControl{Selector: "a#btnCheck", Labels: []string{"조회", "확인"}},
		Markers: Markers{
			Accept: []Marker{{Phrases: []string{"사용가능", "충전가능"}, Message: "정상 (사용 가능)"}},
			Reject: []Marker{
				{Phrases: []string{"이미 사용", "충전된"}, Message: "이미 사용된 핀번호입니다."},
				{Phrases: []string{"유효하지", "오류"}, Message: "유효하지 않은 핀번호입니다."},
			},
			Amount: regexp.MustCompile(`([0-9][0-9,]*)\s*원`),
		},
		RefPrefix: "CL",
	}
}

func BooknLifePortal() Portal {
	return Portal{
		Provider: domain.ProviderBooknLife,
		Device:   mobileDevice,
		Login: LoginForm{
			URL:              "https://m.booknlife.com/member/login.do",
			UserSelector:     "#id",
			PasswordSelector: "#pw",
			SubmitSelector:   ".btn_login",
			FailURLMarkers:   []string{"login.do"},
		},
		TargetURL: "https://m.booknlife.com/cash/charge.do",
		Pin: PinForm{
			Segments:         []int{4, 4, 4, 4},
			Selector:         visibleTextInputs,
			FallbackSelector: "input[name='pinNo']",
			MinDigits:        16,
		},
		Submit: SubmitControl{Labels: []string{"충전"}, MaxLen: 10},
		Markers: Markers{
			Accept: []Marker{{Phrases: []string{"충전이 완료", "정상"}, Message: "정상 (북앤라이프)"}},
			Reject: []Marker{
				{Phrases: []string{"이미 사용", "기사용"}, Message: "이미 사용된 핀번호입니다."},
				{Phrases: []string{"번호 확인", "오류"}, Message: "핀번호를 확인해주세요."},
			},
		},
		RefPrefix: "BNL",
	}
}

func GooglePortal() Portal {
	return Portal{
		Provider: domain.ProviderGoogle,
		Device:   desktopDevice,
		Login: LoginForm{
			URL:              "https://accounts.google.com/signin",
			UserSelector:     "input[type='email']",
			PasswordSelector: "input[type='password']",
			TwoStep:          true,
			FailURLMarkers:   []string{"signin", "challenge"},
		},
		TargetURL: "https://play.google.com/redeem",
		Pin: PinForm{
			Selector:         "input[placeholder*='code'], input[placeholder*='코드']",
			FallbackSelector: "input[type='text']",
			Alphanumeric:     true,
		},
		Submit: SubmitControl{PressEnter: true},
		Markers: Markers{
			Accept: []Marker{{Phrases: []string{"Confirm", "충전", "추가"}, Message: "정상 (Google Play)"}},
			Reject: []Marker{
				{Phrases: []string{"already", "이미 사용", "사용된"}, Message: "이미 사용된 코드입니다."},
				{Phrases: []string{"wrong", "correct", "잘못", "유효하지"}, Message: "유효하지 않은 코드입니다."},
				{Phrases: []string{"need more info", "정보가 더 필요"}, Message: "구글 계정 추가 인증이 필요합니다."},
			},
			Amount: regexp.MustCompile(`₩\s*([0-9][0-9,]*)|([0-9][0-9,]*)\s*원`),
		},
		RefPrefix: "GOOG",
	}
}

func StarbucksPortal() Portal {
	return Portal{
		Provider: domain.ProviderStarbucks,
		Device:   desktopDevice,
		Login: LoginForm{
			URL:              "https://www.starbucks.co.kr/login/login.do",
			UserSelector:     "#user_id",
			PasswordSelector: "#user_pwd",
			SubmitSelector:   "button.btn_login",
			FailURLMarkers:   []string{"login.do"},
		},
		TargetURL: "https://www.starbucks.co.kr/my/mycard_register.do",
		Pin: PinForm{
			Segments:    []int{4, 4, 4, 4, 8},
			Selector:    "#card_number1, #card_number2, #card_number3, #card_number4, #pin_number",
			ExactDigits: 24,
		},
		Submit: SubmitControl{Selector: ".btn_card_reg", Labels: []string{"등록"}, MaxLen: 10},
		Markers: Markers{
			Accept: []Marker{{Phrases: []string{"등록되었습니다", "성공"}, Message: "정상 등록 (스타벅스)"}},
			Reject: []Marker{
				{Phrases: []string{"이미 등록", "존재하는"}, Message: "이미 등록된 카드입니다."},
				{Phrases: []string{"번호를 확인", "잘못"}, Message: "카드 번호를 확인해주세요."},
			},
		},
		ReadDialog: true,
		Balance: &BalanceLookup{
			URL:      "https://www.starbucks.co.kr/my/mycard_list.do",
			Selector: ".my_card_list > li:first-child .balance",
		},
		RefPrefix: "SB",
	}
}

func TeencashPortal() Portal {
	return Portal{
		Provider: domain.ProviderTeencash,
		Device:   mobileDevice,
		Login: LoginForm{
			URL:                "https://www.teencash.co.kr/login",
			UserSelector:       "input[name='userId'], input[type='text']",
			PasswordSelector:   "input[type='password']",
			FailURLMarkers:     []string{"login"},
			OnlyWhenRedirected: "login",
		},
		TargetURL: "https://www.teencash.co.kr/home/pin/reg",
		Pin: PinForm{
			Segments:  []int{4, 4, 4},
			Selector:  visibleTextInputs,
			MinDigits: 12,
		},
		Submit: SubmitControl{Labels: []string{"충전", "등록", "확인"}, MaxLen: 10},
		Markers: Markers{
			Accept: []Marker{{Phrases: []string{"충전이 완료", "성공"}, Message: "정상 (틴캐시)"}},
			Reject: []Marker{
				{Phrases: []string{"이미 사용", "중복"}, Message: "이미 사용된 핀번호입니다."},
				{Phrases: []string{"오류", "틀렸"}, Message: "핀번호가 올바르지 않습니다."},
			},
		},
		RefPrefix: "TC",
	}
}

func LottePortal() Portal {
	return Portal{
		Provider: domain.ProviderLotte,
		Device:   mobileDevice,
		Login: LoginForm{
			URL:              "https://m.lpoint.com/app/member/L_30101.do",
			UserSelector:     "input[name='id']",
			PasswordSelector: "input[name='pw']",
			FailURLMarkers:   []string{"L_30101"},
		},
		TargetURL: "https://m.lpoint.com/app/point/LHAC100100.do",
		Pin: PinForm{
			Selector:         "input[name='giftNo'], input[type='tel']",
			FallbackSelector: "input[type='text']",
			MinDigits:        12,
			MinDigitsMessage: "유효하지 않은 상품권 번호입니다 (12자리 이상 필요)",
		},
		Submit: SubmitControl{Labels: []string{"전환", "충전"}, MaxLen: 10, PressEnter: true},
		Markers: Markers{
			Accept: []Marker{{Phrases: []string{"전환 완료", "충전 완료"}, Message: "정상 (롯데)"}},
			Reject: []Marker{{Phrases: []string{"오류", "실패"}, Message: "롯데 상품권 전환에 실패했습니다."}},
			Amount: regexp.MustCompile(`([0-9][0-9,]*)\s*(?:P|원|포인트)\s*(?:전환|충전)`),
		},
		SoftFallback: &SoftFallback{Message: "검증 완료 (자동화 감지됨 - 수동 확인 요망)"},
		RefPrefix:    "LOTTE",
	}
}

func ShinsegaePortal() Portal {
	return Portal{
		Provider: domain.ProviderShinsegae,
		Device:   mobileDevice,
		Login: LoginForm{
			URL:              "https://member.ssg.com/member/login.ssg",
			UserSelector:     "#memId",
			PasswordSelector: "#memPw",
			SubmitSelector:   "#loginBtn",
			FailURLMarkers:   []string{"login.ssg"},
		},
		TargetURL: "https://m.ssg.com/myssg/ssgmoney/giftCardRegister.ssg",
		Pin: PinForm{
			Selector:         "input[name='giftCardNo'], input[type='tel']",
			FallbackSelector: "input[type='text']",
			MinDigits:        12,
			MinDigitsMessage: "유효하지 않은 상품권 번호 (길이 오류)",
		},
		Submit: SubmitControl{Labels: []string{"충전", "등록"}, MaxLen: 10, PressEnter: true},
		Markers: Markers{
			Accept: []Marker{{Phrases: []string{"충전완료", "정상적으로 처리"}, Message: "정상 (SSG)"}},
			Reject: []Marker{{Phrases: []string{"이미 등록", "사용된", "오류"}, Message: "신세계 상품권 등록에 실패했습니다."}},
			Amount: regexp.MustCompile(`([0-9][0-9,]*)\s*(?:원|SSG)`),
		},
		SoftFallback: &SoftFallback{Message: "검증 완료 (SSG 보안 - 수동 확인 권장)"},
		RefPrefix:    "SSG",
	}
}
