package orchestrator

import (
	"fmt"
	"regexp"
	"strings"
)

// ParsedMentions is the result of splitting a user message into addressees
// and forwardable content.
type ParsedMentions struct {
	// Addressees are the mentioned model ids, lowercased, de-duplicated, in
	// order of first appearance. "@all" is reported via Broadcast, not here.
	Addressees []string

	// CleanText is the message with mention tokens removed and whitespace
	// collapsed.
	CleanText string

	// Broadcast is true when "@all" appeared anywhere in the message.
	Broadcast bool
}

var collapseSpace = regexp.MustCompile(`\s+`)

// MentionParser recognizes @mentions of a known model set plus "@all".
//
// Matching is deliberately loose: a token inside a larger word (an email-like
// "x@claude.com") still matches. Unknown names after "@" pass through to the
// clean text untouched.
type MentionParser struct {
	known   []string
	pattern *regexp.Regexp
}

// NewMentionParser builds a parser for the given model ids.
func NewMentionParser(modelIDs []string) *MentionParser {
	names := make([]string, 0, len(modelIDs)+1)
	for _, id := range modelIDs {
		names = append(names, regexp.QuoteMeta(strings.ToLower(id)))
	}
	names = append(names, "all")
	pattern := regexp.MustCompile(fmt.Sprintf(`(?i)@(%s)\b`, strings.Join(names, "|")))
	return &MentionParser{known: modelIDs, pattern: pattern}
}

// Parse extracts mentions from a user message.
func (p *MentionParser) Parse(text string) ParsedMentions {
	var (
		addressees []string
		broadcast  bool
		seen       = make(map[string]bool)
	)
	for _, match := range p.pattern.FindAllStringSubmatch(text, -1) {
		name := strings.ToLower(match[1])
		if name == "all" {
			broadcast = true
			continue
		}
		if !seen[name] {
			seen[name] = true
			addressees = append(addressees, name)
		}
	}

	clean := p.pattern.ReplaceAllString(text, "")
	clean = strings.TrimSpace(collapseSpace.ReplaceAllString(clean, " "))

	return ParsedMentions{
		Addressees: addressees,
		CleanText:  clean,
		Broadcast:  broadcast,
	}
}

// ForcedSpeakers derives the models mandated to speak: every available model
// on a broadcast, otherwise the mentioned models that are actually available,
// in mention order.
func (p ParsedMentions) ForcedSpeakers(available []string) []string {
	if p.Broadcast {
		return append([]string(nil), available...)
	}
	availSet := make(map[string]bool, len(available))
	for _, m := range available {
		availSet[m] = true
	}
	var forced []string
	for _, m := range p.Addressees {
		if availSet[m] {
			forced = append(forced, m)
		}
	}
	return forced
}

// ContainsMention reports whether text mentions a specific model.
func ContainsMention(text, modelID string) bool {
	pattern := regexp.MustCompile(fmt.Sprintf(`(?i)@%s\b`, regexp.QuoteMeta(modelID)))
	return pattern.MatchString(text)
}

// ContainsAnyMention reports whether text mentions any known model or @all.
func (p *MentionParser) ContainsAnyMention(text string) bool {
	return p.pattern.MatchString(text)
}
