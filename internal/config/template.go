package config

import (
	"fmt"
	"regexp"
	"strings"
)

var templateVarPattern = regexp.MustCompile(`\{([a-z]+)(?::[^}]+)?\}`)

// templateVars are the placeholders the downloader expands in file names
var templateVars = map[string]bool{
	"name":     true,
	"id":       true,
	"stream":   true,
	"date":     true,
	"segments": true,
}

// ValidateTemplate checks if a filename template string is valid
func ValidateTemplate(template string) error {
	if template == "" {
		return fmt.Errorf("template cannot be empty")
	}

	openBraces := strings.Count(template, "{")
	closeBraces := strings.Count(template, "}")
	if openBraces != closeBraces {
		return fmt.Errorf("unbalanced braces in template: %d open, %d close", openBraces, closeBraces)
	}

	for _, match := range templateVarPattern.FindAllStringSubmatch(template, -1) {
		if len(match) > 1 && !templateVars[match[1]] {
			return fmt.Errorf("invalid template variable: {%s}", match[1])
		}
	}

	return nil
}
