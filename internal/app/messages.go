package app

import "strings"

// Operation failures surface to the dashboard as toast messages in the
// viewer's language. Codes not in the table fall back to the generic error.
var toastMessages = map[string]map[string]string{
	"UNAUTHORIZED": {
		"en": "Your session has expired. Please sign in again.",
		"ar": "انتهت صلاحية الجلسة. الرجاء تسجيل الدخول مرة أخرى.",
	},
	"NETWORK_ERROR": {
		"en": "Connection failed. Check your network and try again.",
		"ar": "فشل الاتصال. تحقق من الشبكة وحاول مرة أخرى.",
	},
	"VALIDATION_ERROR": {
		"en": "Some fields are missing or invalid.",
		"ar": "بعض الحقول ناقصة أو غير صالحة.",
	},
	"IMPORT_EMPTY_SHEET": {
		"en": "The file has no headers or no data rows.",
		"ar": "الملف لا يحتوي على عناوين أو صفوف بيانات.",
	},
	"IMPORT_PHONE_REQUIRED": {
		"en": "A phone column must be mapped before importing.",
		"ar": "يجب تحديد عمود الهاتف قبل الاستيراد.",
	},
	"ALERT_PLAYBACK_FAILED": {
		"en": "Could not play the notification sound.",
		"ar": "تعذر تشغيل صوت الإشعار.",
	},
	"INTERNAL_ERROR": {
		"en": "Something went wrong. Please try again.",
		"ar": "حدث خطأ ما. الرجاء المحاولة مرة أخرى.",
	},
}

func localizeCode(code, lang string) string {
	translations, ok := toastMessages[code]
	if !ok {
		translations = toastMessages["INTERNAL_ERROR"]
	}
	if message, ok := translations[lang]; ok {
		return message
	}
	return translations["en"]
}

// requestLang picks en or ar from an Accept-Language header.
func requestLang(acceptLanguage string) string {
	if strings.Contains(strings.ToLower(acceptLanguage), "ar") {
		return "ar"
	}
	return "en"
}
