package pipeline

import (
	"regexp"
	"strings"
)

// imageOnlyInstruction is appended to every prompt so the provider
// returns an image rather than prose about one.
const imageOnlyInstruction = "Return only the edited image, with no accompanying text."

var (
	linkLabelPattern  = regexp.MustCompile(`<[^>|]+\|([^>]*)>`)
	userTokenPattern  = regexp.MustCompile(`<@[^>]+>`)
	chanTokenPattern  = regexp.MustCompile(`<#[^>]+>`)
	anyTokenPattern   = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)

	// Prompts that already demand image-only output are left alone.
	imageOnlyPattern = regexp.MustCompile(`(?i)(image only|only the (edited )?image|no accompanying text)`)
)

// sanitizePrompt strips platform markup from free text: link labels
// replace their tokens, mention and channel tokens are removed, then any
// residual bracketed token, then the bot's own mention as a final pass,
// and whitespace runs collapse to single spaces.
func sanitizePrompt(text, botID string) string {
	s := linkLabelPattern.ReplaceAllString(text, "$1")
	s = userTokenPattern.ReplaceAllString(s, "")
	s = chanTokenPattern.ReplaceAllString(s, "")
	s = anyTokenPattern.ReplaceAllString(s, "")
	if botID != "" {
		s = strings.ReplaceAll(s, "<@"+botID+">", "")
	}
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}

// enforceImageOnly appends the fixed instruction unless the text already
// declares it; empty text becomes the instruction alone.
func enforceImageOnly(text string) string {
	if text == "" {
		return imageOnlyInstruction
	}
	if imageOnlyPattern.MatchString(text) {
		return text
	}
	return text + " " + imageOnlyInstruction
}
