// PageSync - Social Ads Synchronization and Reconciliation Engine
// Copyright 2026 Kittipat V. (kittipatv)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kittipatv/pagesync

package sync

import (
	"context"
	"strings"
	"unicode"

	"github.com/kittipatv/pagesync/internal/config"
	"github.com/kittipatv/pagesync/internal/graph"
	"github.com/kittipatv/pagesync/internal/logging"
	"github.com/kittipatv/pagesync/internal/metrics"
)

// Built-in classifier tables. Deployments targeting other locales override
// them through ClassifierConfig; empty config slices fall back to these.
var (
	defaultPermalinkMarkers = []string{
		"/videos/",
		"/video.php",
		"/reel/",
		"/watch/",
		"fb.watch/",
	}

	defaultTextURLMarkers = []string{
		"facebook.com/watch",
		"fb.watch/",
		"/videos/",
		"/reel/",
	}

	defaultKeywordsLocal = []string{
		"คลิป",
		"วิดีโอ",
		"ไลฟ์",
	}

	defaultKeywordsEnglish = []string{
		"video",
		"clip",
		"vdo",
		"live",
		"reel",
	}

	defaultAttachmentTypes = []string{
		"video_inline",
		"video",
		"video_autoplay",
		"video_share",
	}
)

// AttachmentFetcher retrieves a post's attachment list on demand. The
// classifier calls it lazily, only when every cheaper layer has missed.
type AttachmentFetcher func(ctx context.Context) ([]graph.AttachmentRecord, error)

// Classifier decides whether a piece of content is a video using a layered
// short-circuit chain, cheapest and most precise signals first:
//
//  1. permalink path markers
//  2. video URL markers pasted into the message text
//  3. whole-word bilingual keywords
//  4. attachment types (costs an extra API call, evaluated last)
//
// The returned reason names the layer and pattern that matched.
type Classifier struct {
	permalinkMarkers []string
	textURLMarkers   []string
	keywords         []string
	attachmentTypes  map[string]struct{}
}

// NewClassifier builds a classifier from config, falling back to the
// built-in tables for any empty list.
func NewClassifier(cfg *config.ClassifierConfig) *Classifier {
	permalink := cfg.PermalinkMarkers
	if len(permalink) == 0 {
		permalink = defaultPermalinkMarkers
	}
	textURL := cfg.TextURLMarkers
	if len(textURL) == 0 {
		textURL = defaultTextURLMarkers
	}
	local := cfg.KeywordsLocal
	if len(local) == 0 {
		local = defaultKeywordsLocal
	}
	english := cfg.KeywordsEnglish
	if len(english) == 0 {
		english = defaultKeywordsEnglish
	}
	attachTypes := cfg.AttachmentTypes
	if len(attachTypes) == 0 {
		attachTypes = defaultAttachmentTypes
	}

	keywords := make([]string, 0, len(local)+len(english))
	keywords = append(keywords, local...)
	keywords = append(keywords, english...)

	typeSet := make(map[string]struct{}, len(attachTypes))
	for _, t := range attachTypes {
		typeSet[strings.ToLower(t)] = struct{}{}
	}

	return &Classifier{
		permalinkMarkers: permalink,
		textURLMarkers:   textURL,
		keywords:         keywords,
		attachmentTypes:  typeSet,
	}
}

// Classify runs the chain over a post. fetch may be nil, in which case the
// attachment layer is skipped. An attachment fetch failure degrades to
// not-video rather than failing the post's sync.
func (c *Classifier) Classify(ctx context.Context, permalink, rawText string, fetch AttachmentFetcher) (bool, string) {
	lowerPermalink := strings.ToLower(permalink)
	for _, marker := range c.permalinkMarkers {
		if strings.Contains(lowerPermalink, strings.ToLower(marker)) {
			metrics.RecordClassifierDecision("permalink")
			return true, "permalink:" + marker
		}
	}

	lowerText := strings.ToLower(rawText)
	for _, marker := range c.textURLMarkers {
		if strings.Contains(lowerText, strings.ToLower(marker)) {
			metrics.RecordClassifierDecision("content_url")
			return true, "text_url:" + marker
		}
	}

	for _, kw := range c.keywords {
		if keywordMatches(lowerText, strings.ToLower(kw)) {
			metrics.RecordClassifierDecision("keyword")
			return true, "keyword:" + kw
		}
	}

	if fetch != nil {
		attachments, err := fetch(ctx)
		if err != nil {
			logging.Warn().Err(err).Msg("Attachment fetch failed, classifying as not-video")
			metrics.RecordClassifierDecision("not_video")
			return false, "attachments_unavailable"
		}
		for _, att := range attachments {
			if _, ok := c.attachmentTypes[strings.ToLower(att.Type)]; ok {
				metrics.RecordClassifierDecision("attachment")
				return true, "attachment:" + att.Type
			}
		}
	}

	metrics.RecordClassifierDecision("not_video")
	return false, "not_video"
}

// IsVideoAttachment reports whether a single attachment type tags video
// content. Used by the promoted-post backfill, which already has the
// attachment list in hand.
func (c *Classifier) IsVideoAttachment(attachmentType string) bool {
	_, ok := c.attachmentTypes[strings.ToLower(attachmentType)]
	return ok
}

// keywordMatches reports whether keyword occurs in text as a whole word.
// Latin keywords require non-letter boundaries so "clip" does not match
// "clipboard". Thai script has no word delimiters, so Thai keywords match
// as substrings.
func keywordMatches(text, keyword string) bool {
	if keyword == "" {
		return false
	}
	if !isLatinWord(keyword) {
		return strings.Contains(text, keyword)
	}

	for offset := 0; ; {
		idx := strings.Index(text[offset:], keyword)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(keyword)
		if boundaryAt(text, start-1) && boundaryAt(text, end) {
			return true
		}
		offset = start + 1
	}
}

func isLatinWord(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// boundaryAt reports whether position i in text is outside any word, i.e.
// past either end or holding a non-letter, non-digit byte.
func boundaryAt(text string, i int) bool {
	if i < 0 || i >= len(text) {
		return true
	}
	r := rune(text[i])
	if r > unicode.MaxASCII {
		return false
	}
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
