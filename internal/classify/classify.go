// Package classify labels a website by industry and type from its home page
// content. The labels drive crawl parameter selection: how many pages, how
// deep, which links to prioritize, and whether to render aggressively.
package classify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/priynshgupta/zentra-web-chatbot/pkg/types"
)

type keywordSet struct {
	label    string
	keywords []string
}

var industryKeywords = []keywordSet{
	{"banking", []string{"bank", "loan", "mortgage", "credit", "debit", "account", "finance", "investment"}},
	{"healthcare", []string{"hospital", "clinic", "doctor", "medical", "health", "patient", "treatment", "medicine"}},
	{"education", []string{"school", "university", "college", "course", "student", "teacher", "education", "learning"}},
	{"ecommerce", []string{"shop", "store", "product", "cart", "checkout", "price", "sale", "buy"}},
	{"technology", []string{"software", "hardware", "tech", "digital", "computer", "internet", "app", "mobile"}},
	{"government", []string{"gov", "government", "official", "public", "service", "department", "ministry"}},
	{"entertainment", []string{"movie", "music", "game", "entertainment", "show", "media", "stream"}},
	{"news", []string{"news", "article", "report", "journal", "press", "media", "headline"}},
	{"travel", []string{"travel", "tourism", "hotel", "flight", "booking", "vacation", "trip"}},
	{"real_estate", []string{"property", "real estate", "house", "apartment", "rent", "sale", "home"}},
}

var websiteTypeKeywords = []keywordSet{
	{"corporate", []string{"about", "company", "corporate", "business", "enterprise"}},
	{"ecommerce", []string{"shop", "store", "cart", "checkout", "product"}},
	{"informational", []string{"about", "info", "information", "guide", "help"}},
	{"social", []string{"login", "signup", "profile", "user", "community", "forum"}},
	{"service", []string{"service", "support", "help", "contact", "assistance"}},
	{"blog", []string{"blog", "article", "post", "news", "update"}},
	{"portfolio", []string{"portfolio", "work", "projects", "gallery", "showcase"}},
	{"directory", []string{"directory", "listing", "catalog", "index", "search"}},
}

var keywordPatterns = buildKeywordPatterns()

func buildKeywordPatterns() map[string]*regexp.Regexp {
	patterns := make(map[string]*regexp.Regexp)
	for _, set := range industryKeywords {
		for _, kw := range set.keywords {
			if _, ok := patterns[kw]; !ok {
				patterns[kw] = regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`)
			}
		}
	}
	for _, set := range websiteTypeKeywords {
		for _, kw := range set.keywords {
			if _, ok := patterns[kw]; !ok {
				patterns[kw] = regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`)
			}
		}
	}
	for _, kw := range append(b2bKeywords, b2cKeywords...) {
		if _, ok := patterns[kw]; !ok {
			patterns[kw] = regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`)
		}
	}
	return patterns
}

var (
	b2bKeywords = []string{"business", "enterprise", "corporate", "wholesale", "b2b"}
	b2cKeywords = []string{"consumer", "customer", "retail", "personal", "individual"}
)

var functionalityProbes = []struct {
	name    string
	matches func(*goquery.Document) bool
}{
	{"forms", func(d *goquery.Document) bool { return d.Find("form").Length() > 0 }},
	{"search", func(d *goquery.Document) bool { return d.Find(`input[type="search"]`).Length() > 0 }},
	{"user_authentication", hrefProbe(regexp.MustCompile(`login|signin|signup|register`))},
	{"ecommerce", hrefProbe(regexp.MustCompile(`cart|checkout|basket`))},
	{"content_management", hrefProbe(regexp.MustCompile(`blog|news|article`))},
	{"social_integration", hrefProbe(regexp.MustCompile(`social|share|facebook|twitter`))},
}

func hrefProbe(pat *regexp.Regexp) func(*goquery.Document) bool {
	return func(d *goquery.Document) bool {
		found := false
		d.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			href, _ := s.Attr("href")
			if pat.MatchString(href) {
				found = true
				return false
			}
			return true
		})
		return found
	}
}

// Classify analyzes home page markup and returns industry/type labels with
// confidences. Never fails: unparseable markup yields "unknown" labels.
func Classify(markup string) *types.Categorization {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return &types.Categorization{PrimaryIndustry: "unknown", WebsiteType: "unknown"}
	}

	meta := map[string]string{
		"title":       strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text())),
		"description": strings.ToLower(metaContent(doc, "description")),
		"keywords":    strings.ToLower(metaContent(doc, "keywords")),
	}
	combined := strings.ToLower(doc.Text()) + " " + meta["title"] + " " + meta["description"] + " " + meta["keywords"]

	industryScores := scoreKeywords(combined, industryKeywords)
	typeScores := scoreKeywords(combined, websiteTypeKeywords)
	primaryIndustry, industryConfidence := best(industryScores, industryKeywords)
	websiteType, typeConfidence := best(typeScores, websiteTypeKeywords)

	var functionality []string
	for _, probe := range functionalityProbes {
		if probe.matches(doc) {
			functionality = append(functionality, probe.name)
		}
	}

	return &types.Categorization{
		PrimaryIndustry:    primaryIndustry,
		IndustryConfidence: industryConfidence,
		WebsiteType:        websiteType,
		TypeConfidence:     typeConfidence,
		Functionality:      functionality,
		TargetAudience:     audience(combined),
		Meta:               meta,
		IndustryScores:     industryScores,
		TypeScores:         typeScores,
	}
}

func metaContent(doc *goquery.Document, name string) string {
	content, _ := doc.Find(fmt.Sprintf(`meta[name=%q]`, name)).First().Attr("content")
	return strings.TrimSpace(content)
}

func scoreKeywords(text string, sets []keywordSet) map[string]float64 {
	scores := make(map[string]float64, len(sets))
	var max float64
	for _, set := range sets {
		var score float64
		for _, kw := range set.keywords {
			score += float64(len(keywordPatterns[kw].FindAllStringIndex(text, -1))) * 0.1
		}
		scores[set.label] = score
		if score > max {
			max = score
		}
	}
	if max > 0 {
		for label := range scores {
			scores[label] /= max
		}
	}
	return scores
}

// best picks the highest-scoring label, breaking ties by table order.
func best(scores map[string]float64, sets []keywordSet) (string, float64) {
	label := sets[0].label
	top := scores[label]
	for _, set := range sets[1:] {
		if scores[set.label] > top {
			label = set.label
			top = scores[set.label]
		}
	}
	return label, top
}

func audience(text string) string {
	var b2b, b2c int
	for _, kw := range b2bKeywords {
		b2b += len(keywordPatterns[kw].FindAllStringIndex(text, -1))
	}
	for _, kw := range b2cKeywords {
		b2c += len(keywordPatterns[kw].FindAllStringIndex(text, -1))
	}
	switch {
	case b2b > b2c:
		return "B2B"
	case b2c > b2b:
		return "B2C"
	default:
		return "General"
	}
}

// BudgetFor maps a categorization onto crawl parameters. The table mirrors
// observed site structure: banking and e-commerce lean on script-driven
// navigation, so they crawl render-aggressively; educational sites are broad
// but mostly static.
func BudgetFor(cat *types.Categorization) types.CrawlBudget {
	budget := types.CrawlBudget{MaxPages: 200, MaxDepth: 3}
	if cat == nil {
		return budget
	}
	switch {
	case cat.PrimaryIndustry == "banking":
		budget = types.CrawlBudget{
			MaxPages:         250,
			MaxDepth:         4,
			PriorityTerms:    []string{"login", "account", "security", "service", "faq", "help"},
			RenderAggressive: true,
		}
	case cat.PrimaryIndustry == "education" || cat.PrimaryIndustry == "academic":
		budget = types.CrawlBudget{
			MaxPages:      300,
			MaxDepth:      4,
			PriorityTerms: []string{"course", "program", "faculty", "admission", "research"},
		}
	case cat.WebsiteType == "corporate":
		budget = types.CrawlBudget{
			MaxPages:      200,
			MaxDepth:      3,
			PriorityTerms: []string{"about", "product", "service", "contact", "career"},
		}
	case cat.PrimaryIndustry == "ecommerce":
		budget = types.CrawlBudget{
			MaxPages:         250,
			MaxDepth:         3,
			PriorityTerms:    []string{"product", "category", "cart", "checkout", "account"},
			RenderAggressive: true,
		}
	}
	return budget
}
