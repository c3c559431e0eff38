package report

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const reportCSS = `body{font-family:Georgia,serif;color:#1c1917;max-width:960px;margin:0 auto;padding:1rem;}` +
	`h1{border-bottom:2px solid #92400e;padding-bottom:0.3rem;}` +
	`h2[data-part="rejected"]{break-before:page;page-break-before:always;}` +
	`h3{margin-top:1.6rem;}` +
	`table{width:100%;border-collapse:collapse;font-size:0.85rem;margin:0.5rem 0;}` +
	`th,td{border:1px solid #a8a29e;padding:0.3rem 0.45rem;text-align:left;vertical-align:top;}` +
	`thead th{background:#f1f5f9;}` +
	`pre{background:#f9f7f3;padding:0.6rem;white-space:pre-wrap;font-size:0.8rem;}` +
	`html,body,*{-webkit-print-color-adjust:exact !important;print-color-adjust:exact !important;}`

var partHeading = regexp.MustCompile(`<h2>(` + reviewHeading + `|` + rejectedHeading + `)</h2>`)

// RenderHTML converts the markdown report into a standalone HTML document.
func RenderHTML(markdown string) (string, error) {
	var content strings.Builder
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := md.Convert([]byte(markdown), &content); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}
	return "<!doctype html><html><head><meta charset='utf-8'><title>Civic Association Audit Report</title>" +
		"<style>" + reportCSS + "</style></head><body>" +
		markParts(content.String()) +
		"</body></html>", nil
}

// markParts tags the part headings so print CSS can start each on a new page.
func markParts(contentHTML string) string {
	return partHeading.ReplaceAllStringFunc(contentHTML, func(h string) string {
		part := "review"
		if strings.Contains(h, rejectedHeading) {
			part = "rejected"
		}
		return strings.Replace(h, "<h2>", `<h2 data-part="`+part+`">`, 1)
	})
}
