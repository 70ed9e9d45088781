package engine

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeLiuMe/webpeel-sub001/models"
)

// Verdict is the classifier's judgement of one fetch outcome.
type Verdict int

const (
	// VerdictOK: the content is usable as-is.
	VerdictOK Verdict = iota
	// VerdictBlocked: bot-detection signal; escalate.
	VerdictBlocked
	// VerdictNeedsJS: the HTTP layer succeeded but the document is an
	// SPA shell whose content only exists after JavaScript runs;
	// escalate to a browser rung.
	VerdictNeedsJS
)

// Classifier judges whether a fetch outcome carries real content or
// evidence that a cheaper method failed.
type Classifier interface {
	Classify(body string, status int, method models.Method) Verdict
}

// challengeMarkers are substrings of well-known anti-bot interstitials
// (Cloudflare and friends). Matched case-insensitively.
var challengeMarkers = []string{
	"checking your browser",
	"just a moment",
	"cf-browser-verification",
	"cf-chl-",
	"challenge-platform",
	"attention required! | cloudflare",
	"ddos protection by",
	"verify you are human",
	"enable javascript and cookies to continue",
}

// reNoscript matches <noscript> warnings that the page requires
// JavaScript.
var reNoscript = regexp.MustCompile(`<noscript[^>]*>[^<]*(enable|activate|turn on|requires?)\s+javascript`)

// spaRoots are the mount-point IDs of the common SPA frameworks.
const spaRoots = "#root, #app, #__next"

// Heuristic is the default classifier: status codes, challenge
// markers, a minimum-plausible-body floor, and SPA-shell detection for
// the simple rung.
type Heuristic struct {
	// MinBodyBytes is the floor below which a body is treated as
	// blocked.
	MinBodyBytes int
}

func (h *Heuristic) Classify(body string, status int, method models.Method) Verdict {
	if status == 403 || status == 503 {
		return VerdictBlocked
	}

	lower := strings.ToLower(body)
	for _, marker := range challengeMarkers {
		if strings.Contains(lower, marker) {
			return VerdictBlocked
		}
	}

	if len(body) < h.MinBodyBytes {
		return VerdictBlocked
	}

	// SPA-shell heuristics only make sense for the raw HTTP response;
	// a browser rung has already executed the page's JavaScript.
	if method == models.MethodSimple && looksLikeSPAShell(body, lower) {
		return VerdictNeedsJS
	}

	return VerdictOK
}

// looksLikeSPAShell reports whether the document is an empty
// client-side-rendering shell: an empty framework mount point, a
// "enable JavaScript" notice, very little visible text, or many
// scripts wrapped around almost no content.
func looksLikeSPAShell(body, lower string) bool {
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(body)); err == nil {
		emptyRoot := false
		doc.Find(spaRoots).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			if strings.TrimSpace(sel.Text()) == "" && sel.Children().Length() == 0 {
				emptyRoot = true
				return false
			}
			return true
		})
		if emptyRoot {
			return true
		}
	}

	if reNoscript.MatchString(lower) {
		return true
	}

	text := visibleText(body)
	if len(text) < 200 {
		return true
	}

	scriptCount := strings.Count(lower, "<script")
	return scriptCount > 10 && len(text) < 500
}

// visibleText extracts the visible text from within <body>, stripping
// all tags and <script>/<style> content. Heuristic input only; it does
// not need to be a faithful render.
func visibleText(body string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(body))
	var buf strings.Builder
	inBody := false
	skipDepth := 0

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return buf.String()
		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			tag := string(tn)
			if tag == "body" {
				inBody = true
			}
			if tag == "script" || tag == "style" || tag == "noscript" {
				skipDepth++
			}
		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			tag := string(tn)
			if tag == "script" || tag == "style" || tag == "noscript" {
				if skipDepth > 0 {
					skipDepth--
				}
			}
		case html.TextToken:
			if inBody && skipDepth == 0 {
				text := strings.TrimSpace(string(tokenizer.Text()))
				if text != "" {
					buf.WriteString(text)
					buf.WriteByte(' ')
				}
			}
		}
	}
}
