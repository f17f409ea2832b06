// Package redact implements the Redactor (C5): replaces extracted privacy
// entities with typed opaque tokens, with a rule-based fallback when the
// local model is disabled or extraction fails. Unlike the teacher's
// de-anonymizing proxy, tokens here are NOT reversible — no token→value map
// is retained, matching this engine's non-goal of reversible
// de-identification.
package redact

import (
	"regexp"
	"sort"
	"strings"

	"privacygate/internal/tier"
)

// canonicalTypes normalizes free-form entity type strings (case-insensitive,
// spaces → underscores) onto the closed redaction-token vocabulary of §3:
// NAME, PHONE, EMAIL, ADDRESS, ACCESS_CODE, DELIVERY, ID, CARD, SECRET, IP,
// LICENSE, TIME, DATE, SALARY, AMOUNT, PAYMENT, BIRTHDAY.
var canonicalTypes = map[string]string{
	"email":                  "EMAIL",
	"phone":                  "PHONE",
	"phone_number":           "PHONE",
	"name":                   "NAME",
	"address":                "ADDRESS",
	"access_code":            "ACCESS_CODE",
	"accesscode":             "ACCESS_CODE",
	"delivery":               "DELIVERY",
	"ssn":                    "ID",
	"social_security_number": "ID",
	"national_id":            "ID",
	"credit_card":            "CARD",
	"creditcard":             "CARD",
	"card_number":            "CARD",
	"cardnumber":             "CARD",
	"api_key":                "SECRET",
	"apikey":                 "SECRET",
	"password":               "SECRET",
	"secret_key":             "SECRET",
	"ip_address":             "IP",
	"ipaddress":              "IP",
	"license":                "LICENSE",
	"license_number":         "LICENSE",
	"drivers_license":        "LICENSE",
	"time":                   "TIME",
	"date":                   "DATE",
	"salary":                 "SALARY",
	"amount":                 "AMOUNT",
	"payment":                "PAYMENT",
	"birthday":               "BIRTHDAY",
	"date_of_birth":          "BIRTHDAY",
	"dob":                    "BIRTHDAY",
}

// canonicalType normalizes a type string to the lookup's canonical form.
// Unknown types fall back to their own uppercased, underscore-normalized
// form so extraction results the lookup doesn't anticipate still redact
// under a stable, descriptive token.
func canonicalType(raw string) string {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(raw), " ", "_"))
	if canon, ok := canonicalTypes[key]; ok {
		return canon
	}
	return strings.ToUpper(key)
}

func token(entityType string) string {
	return "[REDACTED:" + canonicalType(entityType) + "]"
}

// Result is the output of a redaction pass, carrying the model_used flag so
// observers can distinguish semantic from fallback redaction, per §4.5.
type Result struct {
	Content   string
	ModelUsed bool
}

// Redact implements redact(content, entities) → redacted_content: entities
// are sorted by value length descending (so a longer value is never left
// partially redacted by an earlier substring replacement) and each
// occurrence of the literal value is replaced with its canonical token.
func Redact(content string, entities []tier.PrivacyEntity) Result {
	if len(entities) == 0 {
		return Result{Content: content, ModelUsed: true}
	}

	sorted := make([]tier.PrivacyEntity, len(entities))
	copy(sorted, entities)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Value) > len(sorted[j].Value)
	})

	result := content
	for _, e := range sorted {
		if e.Value == "" {
			continue
		}
		result = strings.ReplaceAll(result, e.Value, token(e.Type))
	}

	result = enforcePostCondition(result, sorted)
	return Result{Content: result, ModelUsed: true}
}

// enforcePostCondition implements §4.5's correctness requirement: the output
// must not contain any entity value as a substring. If an overlapping-entity
// construction left a value intact, reapply replacement with the failing
// value first.
func enforcePostCondition(content string, sorted []tier.PrivacyEntity) string {
	for pass := 0; pass < len(sorted)+1; pass++ {
		violated := false
		for _, e := range sorted {
			if e.Value == "" {
				continue
			}
			if strings.Contains(content, e.Value) {
				content = strings.ReplaceAll(content, e.Value, token(e.Type))
				violated = true
			}
		}
		if !violated {
			break
		}
	}
	return content
}

// fallbackPatterns are the rule-based substitutions applied when the local
// model is disabled or extraction fails, grounded on the teacher corpus's
// fixed secret-pattern list: sk-… keys, token=…, password=….
var fallbackPatterns = []struct {
	re    *regexp.Regexp
	token string
}{
	{regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`), "[REDACTED:SECRET]"},
	{regexp.MustCompile(`(?i)(?:token|bearer)[\s"':=]+[A-Za-z0-9_\-.]{12,}`), "[REDACTED:SECRET]"},
	{regexp.MustCompile(`(?i)password[\s"':=]+\S+`), "[REDACTED:SECRET]"},
	{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), "[REDACTED:SECRET]"},
	{regexp.MustCompile(`gh[ps]_[A-Za-z0-9_]{36,}`), "[REDACTED:SECRET]"},
	{regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`), "[REDACTED:SECRET]"},
}

// RedactFallback applies the rule-based redactor, used when the local model
// is disabled or the extraction call fails.
func RedactFallback(content string) Result {
	result := content
	for _, p := range fallbackPatterns {
		result = p.re.ReplaceAllString(result, p.token)
	}
	return Result{Content: result, ModelUsed: false}
}
