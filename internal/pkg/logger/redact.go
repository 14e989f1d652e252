package logger

import (
	"regexp"
	"strings"
)

const mask = "***"

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// RedactEmail keeps the first two characters of the local part and the
// domain, so a recipient stays recognizable in delivery logs without being
// recoverable: "jane.doe@example.com" logs as "ja***@example.com". Local
// parts of two characters or fewer are masked whole, and a "Name <addr>"
// header value keeps its display name.
func RedactEmail(addr string) string {
	if lt := strings.LastIndexByte(addr, '<'); lt >= 0 && strings.HasSuffix(addr, ">") {
		return addr[:lt+1] + RedactEmail(addr[lt+1:len(addr)-1]) + ">"
	}
	local, domain, ok := strings.Cut(addr, "@")
	if !ok || strings.Contains(domain, "@") {
		return mask + "@" + mask
	}
	if len(local) <= 2 {
		return mask + "@" + domain
	}
	return local[:2] + mask + "@" + domain
}

// redactValue masks every address embedded in a field value. Field names
// do not matter: recipient lists, SMTP replies and provider error details
// all quote addresses.
func redactValue(val string) string {
	if !strings.Contains(val, "@") {
		return val
	}
	return emailPattern.ReplaceAllStringFunc(val, RedactEmail)
}
