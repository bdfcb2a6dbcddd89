// Package vcard renders directory profiles as vCard 3.0 contact cards.
package vcard

import (
	"regexp"
	"slices"
	"strings"

	"teamcards/internal/domain"
)

// ContentType is the media type of Generate's output.
const ContentType = "text/vcard; charset=utf-8"

var (
	whitespace = regexp.MustCompile(`\s+`)
	textEscape = strings.NewReplacer(`\`, `\\`, ",", `\,`, ";", `\;`, "\r\n", `\n`, "\n", `\n`, "\r", `\n`)
)

// Generate renders p as a CRLF-delimited vCard for organization org.
func Generate(p domain.Profile, org string) string {
	name := strings.TrimSpace(p.DisplayName)

	parts := strings.Fields(name)
	slices.Reverse(parts)
	for i, part := range parts {
		parts[i] = escape(part)
	}

	lines := []string{
		"BEGIN:VCARD",
		"VERSION:3.0",
		"FN:" + escape(name),
		"N:" + strings.Join(parts, ";"),
		"TITLE:" + escape(p.RoleTitle),
		"ORG:" + escape(org),
	}
	if p.Phone != "" {
		lines = append(lines, "TEL:"+escape(p.Phone))
	}
	if p.Email != "" {
		lines = append(lines, "EMAIL:"+escape(p.Email))
	}
	if p.Site != "" {
		lines = append(lines, "URL:"+siteURL(p.Site))
	}
	if p.ImageURL != "" {
		lines = append(lines, "PHOTO;VALUE=URL:"+p.ImageURL)
	}
	lines = append(lines, "END:VCARD")

	return strings.Join(lines, "\r\n")
}

// FileName is the download name for p's card: whitespace runs become
// underscores.
func FileName(p domain.Profile) string {
	name := strings.TrimSpace(p.DisplayName)
	if name == "" {
		name = "contact"
	}
	return whitespace.ReplaceAllString(name, "_") + ".vcf"
}

func escape(s string) string {
	return textEscape.Replace(s)
}

func siteURL(site string) string {
	if strings.HasPrefix(site, "http://") || strings.HasPrefix(site, "https://") {
		return site
	}
	return "https://" + site
}
