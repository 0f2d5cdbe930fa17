package guard

import (
	"strings"
)

// Signature token lists for the content heuristics. Matching is
// case-insensitive and substring based; the lists favor precision over
// recall since a false deny is worse here than a miss.
var (
	botTokens = []string{
		"bot", "crawler", "spider", "scraper", "curl", "wget",
		"python-requests", "go-http-client", "java/", "libwww",
		"phantomjs", "headless", "selenium",
	}

	sqlInjectionTokens = []string{
		"' or '1'='1", "' or 1=1", "union select", "select * from",
		"drop table", "insert into", "delete from", "update ", "exec(",
		"execute(", "xp_cmdshell", "--", "/*", "*/", "char(", "0x",
		"; drop", "waitfor delay",
	}

	xssTokens = []string{
		"<script", "</script>", "javascript:", "onerror=", "onload=",
		"onclick=", "onmouseover=", "<iframe", "<object", "<embed",
		"document.cookie", "document.write", "eval(", "alert(",
	}

	commandInjectionTokens = []string{
		"; ls", "; cat", "; rm", "| ls", "| cat", "&& ls", "&& cat",
		"$(", "`", "../", "..\\", "/etc/passwd", "/bin/sh", "cmd.exe",
		"powershell",
	}
)

const minUserAgentLength = 10

// detectBot flags automated clients from the user-agent string: known
// crawler and automation tokens, or a missing/implausibly short agent.
func detectBot(userAgent string) (string, bool) {
	if userAgent == "" {
		return "missing user-agent", true
	}
	if len(userAgent) < minUserAgentLength {
		return "user-agent too short", true
	}

	lowered := strings.ToLower(userAgent)
	for _, token := range botTokens {
		if strings.Contains(lowered, token) {
			return "bot signature: " + token, true
		}
	}
	return "", false
}

const (
	spamKeywordThreshold = 3
	// repetitionRatio flags a payload when a single token makes up more
	// than this share of all tokens
	repetitionRatio   = 0.5
	repetitionMinimum = 10
)

// detectSpam flags payloads by keyword density against the configured list
// and by excessive single-token repetition.
func detectSpam(body string, keywords []string) (string, bool) {
	if body == "" {
		return "", false
	}
	lowered := strings.ToLower(body)

	hits := 0
	for _, keyword := range keywords {
		if keyword == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(keyword)) {
			hits++
		}
	}
	if hits >= spamKeywordThreshold {
		return "spam keyword density", true
	}

	tokens := strings.Fields(lowered)
	if len(tokens) >= repetitionMinimum {
		counts := make(map[string]int, len(tokens))
		top := 0
		for _, token := range tokens {
			counts[token]++
			if counts[token] > top {
				top = counts[token]
			}
		}
		if float64(top)/float64(len(tokens)) > repetitionRatio {
			return "excessive token repetition", true
		}
	}

	return "", false
}

// detectInjection scans the payload and header values for SQL, XSS and
// command injection signatures.
func detectInjection(body string, headers map[string]string) (string, bool) {
	if reason, found := scanInjectionTokens(body); found {
		return reason, true
	}
	for _, value := range headers {
		if reason, found := scanInjectionTokens(value); found {
			return reason, true
		}
	}
	return "", false
}

func scanInjectionTokens(input string) (string, bool) {
	if input == "" {
		return "", false
	}
	lowered := strings.ToLower(input)

	for _, token := range sqlInjectionTokens {
		if strings.Contains(lowered, token) {
			return "sql injection signature", true
		}
	}
	for _, token := range xssTokens {
		if strings.Contains(lowered, token) {
			return "xss signature", true
		}
	}
	for _, token := range commandInjectionTokens {
		if strings.Contains(lowered, token) {
			return "command injection signature", true
		}
	}
	return "", false
}
