package records

import "strings"

// Member is one person listed under an association, with an optional office.
type Member struct {
	FullName string `json:"full_name"`
	Role     string `json:"role,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// Metadata is the provenance attached by the extraction attempt that produced a record.
type Metadata struct {
	Model  string `json:"model,omitempty"`
	Tokens int64  `json:"tokens,omitempty"`
}

// Record is one extraction attempt's output for one logical association.
// Records are immutable once produced; AssociationID is the identity key
// derived from the record's own name, city, year and source pages.
type Record struct {
	AssociationID        string   `json:"association_id"`
	Name                 string   `json:"name"`
	AssociationType      string   `json:"association_type,omitempty"`
	City                 string   `json:"city,omitempty"`
	County               string   `json:"county,omitempty"`
	State                string   `json:"state,omitempty"`
	Year                 int      `json:"year,omitempty"`
	SourceDirectoryTitle string   `json:"source_directory_title,omitempty"`
	SourceCollection     string   `json:"source_collection,omitempty"`
	SourcePages          []string `json:"source_pages"`
	RawSectionText       string   `json:"raw_section_text"`
	Members              []Member `json:"members"`
	ExtractionRunID      string   `json:"extraction_run_id"`
	SectionID            string   `json:"section_id,omitempty"`
	Ordinal              int      `json:"ordinal"`
	Metadata             Metadata `json:"metadata"`
}

// Page is a single directory page image listed in a manifest.
type Page struct {
	PageID           string `json:"page_id"`
	City             string `json:"city"`
	County           string `json:"county,omitempty"`
	State            string `json:"state"`
	Year             int    `json:"year"`
	SourceCollection string `json:"source_collection"`
	PageNumber       int    `json:"page_number"`
	ImagePath        string `json:"image_path"`
	Notes            string `json:"notes,omitempty"`
}

// PageOCR is the OCR output for one page.
type PageOCR struct {
	PageID        string  `json:"page_id"`
	TextMarkdown  string  `json:"text_md"`
	TextPlain     string  `json:"text_plain"`
	OCRConfidence float64 `json:"ocr_confidence"`
}

// Section is a span of OCR text, possibly crossing pages, that lists associations.
type Section struct {
	SectionID       string   `json:"section_id"`
	PageIDs         []string `json:"page_ids"`
	City            string   `json:"city"`
	County          string   `json:"county,omitempty"`
	State           string   `json:"state"`
	Year            int      `json:"year"`
	StartPageNumber int      `json:"start_page_number"`
	EndPageNumber   int      `json:"end_page_number"`
	SectionType     string   `json:"section_type"`
	RawText         string   `json:"raw_text"`
}

// CollectionFromPageID returns the collection prefix of a page id of the
// form "{collection}_p{NNN}", or "" when the id has no page suffix.
func CollectionFromPageID(pageID string) string {
	i := strings.LastIndex(pageID, "_p")
	if i <= 0 {
		return ""
	}
	return pageID[:i]
}
