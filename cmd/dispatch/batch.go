package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/JAKOBGTAG/multi-email-sender/internal/domain"
)

// batchFile is the YAML layout accepted by -batch.
type batchFile struct {
	Content    domain.Content     `yaml:"content"`
	Recipients []domain.Recipient `yaml:"recipients"`
	Options    struct {
		Priority    domain.Priority   `yaml:"priority"`
		Headers     map[string]string `yaml:"headers"`
		Attachments []attachmentRef   `yaml:"attachments"`
	} `yaml:"options"`
}

// attachmentRef points at a file; relative paths resolve against the batch
// file's directory.
type attachmentRef struct {
	Path        string `yaml:"path"`
	Filename    string `yaml:"filename"`
	ContentType string `yaml:"content_type"`
}

type batch struct {
	Content    domain.Content
	Recipients []domain.Recipient
	Options    domain.SendOptions
}

func loadBatch(path string) (*batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f batchFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse batch: %w", err)
	}

	b := &batch{
		Content:    f.Content,
		Recipients: f.Recipients,
		Options:    domain.SendOptions{Priority: f.Options.Priority, Headers: f.Options.Headers},
	}

	dir := filepath.Dir(path)
	for _, ref := range f.Options.Attachments {
		p := ref.Path
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		body, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read attachment: %w", err)
		}
		name := ref.Filename
		if name == "" {
			name = filepath.Base(p)
		}
		b.Options.Attachments = append(b.Options.Attachments, domain.Attachment{
			Filename: name, ContentType: ref.ContentType, Data: body,
		})
	}
	return b, nil
}
