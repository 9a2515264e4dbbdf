// Package util provides content hashing and lesson front matter parsing.
package util

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/gomarkdown/markdown"
)

var frontMatterDelimiter = []byte("%%%")

// FrontMatter is the optional TOML header of an imported lesson file.
type FrontMatter struct {
	Title       string    `toml:"title"`
	Description string    `toml:"description"`
	Order       int       `toml:"order"`
	Date        time.Time `toml:"date"`

	// Consumed is the number of bytes taken by the header, delimiters included.
	Consumed int `toml:"-"`
}

func ContentHash(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}

func ContentHashString(content string) string {
	return ContentHash([]byte(content))
}

// GetFrontMatter parses a %%%-delimited TOML block at the start of md.
func GetFrontMatter(md []byte) (*FrontMatter, error) {
	md = markdown.NormalizeNewlines(md)
	trimmed := bytes.TrimLeft(md, "\n \t\r")
	leading := len(md) - len(trimmed)

	if !bytes.HasPrefix(trimmed, frontMatterDelimiter) {
		return nil, fmt.Errorf("invalid front matter format")
	}

	rest := trimmed[len(frontMatterDelimiter):]
	end := bytes.Index(rest, frontMatterDelimiter)
	if end == -1 {
		return nil, fmt.Errorf("invalid front matter format")
	}

	fm := &FrontMatter{}
	if _, err := toml.Decode(string(rest[:end]), fm); err != nil {
		return nil, fmt.Errorf("failed to decode front matter: %w", err)
	}

	fm.Consumed = leading + len(frontMatterDelimiter) + end + len(frontMatterDelimiter)
	return fm, nil
}

// StripFrontMatter returns md without its front matter header, if it has one.
func StripFrontMatter(md []byte) []byte {
	fm, err := GetFrontMatter(md)
	if err != nil {
		return md
	}
	md = markdown.NormalizeNewlines(md)
	return bytes.TrimLeft(md[fm.Consumed:], "\n")
}
