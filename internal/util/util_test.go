package util

import (
	"testing"
	"time"
)

func TestGetFrontMatter(t *testing.T) {
	testCases := []struct {
		name          string
		markdown      []byte
		expectError   bool
		expectedTitle string
		expectedOrder int
		expectedDate  time.Time
	}{
		{
			name: "Valid Front Matter",
			markdown: []byte(`%%%
title = "Pointers"
order = 3
date = 2025-01-01 00:00:00Z
%%%
# Content`),
			expectedTitle: "Pointers",
			expectedOrder: 3,
			expectedDate:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "No Front Matter",
			markdown: []byte(`# Just Content
No front matter here.`),
			expectError: true,
		},
		{
			name:        "Empty File",
			markdown:    []byte(""),
			expectError: true,
		},
		{
			name: "Content Before Front Matter",
			markdown: []byte(`
# This should be ignored
%%%
title = "Pointers"
%%%
# Content`),
			expectError: true,
		},
		{
			name: "Extra Whitespace",
			markdown: []byte(`


%%%

title = "Pointers"

%%%
# Content`),
			expectedTitle: "Pointers",
		},
		{
			name: "Malformed Front Matter",
			markdown: []byte(`%%%
title = "Incomplete
# Content`),
			expectError: true,
		},
		{
			name: "Front Matter with No Title",
			markdown: []byte(`%%%
order = 7
%%%
# Content`),
			expectedOrder: 7,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			info, err := GetFrontMatter(tc.markdown)

			if tc.expectError {
				if err == nil {
					t.Errorf("Expected error, but got none")
				}
				if info != nil {
					t.Errorf("Expected nil info when error occurs, but got %+v", info)
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error, but got: %v", err)
			}
			if info.Title != tc.expectedTitle {
				t.Errorf("Expected title '%s', but got '%s'", tc.expectedTitle, info.Title)
			}
			if info.Order != tc.expectedOrder {
				t.Errorf("Expected order %d, but got %d", tc.expectedOrder, info.Order)
			}
			if !info.Date.Equal(tc.expectedDate) {
				t.Errorf("Expected date '%v', but got '%v'", tc.expectedDate, info.Date)
			}
		})
	}
}

func TestStripFrontMatter(t *testing.T) {
	md := []byte("%%%\ntitle = \"Loops\"\n%%%\n\n# Loops\nBody")
	if got := string(StripFrontMatter(md)); got != "# Loops\nBody" {
		t.Errorf("Expected header to be stripped, got %q", got)
	}

	plain := []byte("# No header")
	if got := string(StripFrontMatter(plain)); got != "# No header" {
		t.Errorf("Expected content without header to be unchanged, got %q", got)
	}
}

func TestContentHash(t *testing.T) {
	a := ContentHashString("lesson body")
	b := ContentHash([]byte("lesson body"))
	if a != b {
		t.Errorf("Expected string and byte hashes to match: %s != %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("Expected 64 hex characters, got %d", len(a))
	}
	if a == ContentHashString("lesson body!") {
		t.Error("Expected different content to hash differently")
	}
}
