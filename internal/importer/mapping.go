package importer

import "regexp"

// Field is a client attribute an imported column can map onto.
type Field string

const (
	FieldName     Field = "name"
	FieldPhone    Field = "phone"
	FieldEmail    Field = "email"
	FieldCity     Field = "city"
	FieldProject  Field = "project"
	FieldBudget   Field = "budget"
	FieldCampaign Field = "campaign"
	FieldComment  Field = "comment"
)

// mappingRule pairs a field with the header patterns that select it. Rules
// are evaluated in slice order, so earlier fields take precedence when a
// header would match several.
type mappingRule struct {
	field    Field
	patterns []*regexp.Regexp
}

func compile(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, pattern := range patterns {
		compiled[i] = regexp.MustCompile(pattern)
	}
	return compiled
}

// Header patterns are locale-aware: every field matches both its English and
// Arabic spreadsheet spellings.
var mappingRules = []mappingRule{
	{FieldPhone, compile(`(?i)phone|mobile|tel|whats`, `هاتف|جوال|موبايل|واتس|رقم`)},
	{FieldName, compile(`(?i)^name$|client|customer|lead`, `اسم|الاسم|عميل|العميل`)},
	{FieldEmail, compile(`(?i)e-?mail`, `بريد|ايميل|إيميل`)},
	{FieldCity, compile(`(?i)city|region|area`, `مدينة|المدينة|منطقة|المنطقة`)},
	{FieldProject, compile(`(?i)project|property|unit`, `مشروع|المشروع|وحدة|الوحدة`)},
	{FieldBudget, compile(`(?i)budget|price|amount`, `ميزانية|الميزانية|سعر|السعر|مبلغ`)},
	{FieldCampaign, compile(`(?i)campaign|source|channel`, `حملة|الحملة|مصدر|المصدر`)},
	{FieldComment, compile(`(?i)comment|note|remark`, `ملاحظ|تعليق|تفاصيل`)},
}

// AutoMap proposes a column-to-field mapping for the detected headers. Each
// header is tested against the rule table in precedence order; the first rule
// with a matching pattern wins. A field already claimed by an earlier column
// is not assigned twice. Callers may override any entry before import.
func AutoMap(headers []string) map[int]Field {
	mapping := make(map[int]Field)
	claimed := make(map[Field]struct{})

	for column, header := range headers {
		for _, rule := range mappingRules {
			if _, taken := claimed[rule.field]; taken {
				continue
			}
			if matchesAny(rule.patterns, header) {
				mapping[column] = rule.field
				claimed[rule.field] = struct{}{}
				break
			}
		}
	}
	return mapping
}

func matchesAny(patterns []*regexp.Regexp, header string) bool {
	for _, pattern := range patterns {
		if pattern.MatchString(header) {
			return true
		}
	}
	return false
}
