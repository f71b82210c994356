package processor

import (
	"regexp"
	"sieve/internal/logging"
	"sort"
)

// secretPatterns match credentials and identifiers that should not be sent to a hosted model
var secretPatterns = map[string]*regexp.Regexp{
	"ssn":         regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	"credit_card": regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`),
	"api_key":     regexp.MustCompile(`\b(sk-[a-zA-Z0-9_-]{32,}|ghp_[a-zA-Z0-9]{36}|xox[baprs]-[a-zA-Z0-9-]+|sieve_live_[0-9a-f]{32})\b`),
	"private_key": regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY-----`),
}

// DetectSecrets returns the sorted kinds of secret found in text
func DetectSecrets(text string) []string {
	var found []string
	for kind, pattern := range secretPatterns {
		if pattern.MatchString(text) {
			found = append(found, kind)
		}
	}
	sort.Strings(found)
	return found
}

// warnSecrets logs when text about to go to the model looks like it holds
// credentials. The capture still proceeds.
func warnSecrets(logger *logging.Logger, text string) {
	if kinds := DetectSecrets(text); len(kinds) > 0 {
		logger.WithContext("secret_types", kinds).Warn("capture appears to contain secrets, review the capsule")
	}
}
