// internal/service/template.go
package service

import (
	"strings"
)

// namePlaceholders are the recipient-name markers supported in disparo
// message templates. Both bracket syntaxes occur in imported templates.
var namePlaceholders = []string{
	"{{name}}",
	"{{nome}}",
	"[nome]",
	"[Nome]",
	"[NOME]",
}

// RenderMessage substitutes the recipient name into a message template.
func RenderMessage(template, name string) string {
	result := template
	for _, p := range namePlaceholders {
		result = strings.ReplaceAll(result, p, name)
	}
	return result
}

// RenderTemplate replaces {key} placeholders from a data map.
func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}
