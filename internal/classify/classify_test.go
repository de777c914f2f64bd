package classify

import (
	"strings"
	"testing"
)

const bankingPage = `<html><head>
<title>First National Bank</title>
<meta name="description" content="bank accounts, loans and mortgage services">
</head><body>
<p>Open a bank account today. Our loan and mortgage offers beat any credit union.</p>
<a href="/login">Login</a>
<form action="/search"><input type="search" name="q"></form>
</body></html>`

const shopPage = `<html><head><title>Mega Shop</title></head><body>
<p>Shop our store: add any product to your cart and head to checkout. Sale prices, buy now.</p>
<a href="/cart">Cart</a>
</body></html>`

func TestClassifyIndustry(t *testing.T) {
	cat := Classify(bankingPage)
	if cat.PrimaryIndustry != "banking" {
		t.Errorf("PrimaryIndustry = %q, want banking (scores: %v)", cat.PrimaryIndustry, cat.IndustryScores)
	}
	if cat.IndustryConfidence != 1.0 {
		t.Errorf("IndustryConfidence = %v, want 1.0 for the top label", cat.IndustryConfidence)
	}
	if cat.Meta["title"] != "first national bank" {
		t.Errorf("meta title = %q", cat.Meta["title"])
	}
}

func TestClassifyFunctionality(t *testing.T) {
	cat := Classify(bankingPage)
	want := map[string]bool{"forms": true, "search": true, "user_authentication": true}
	for _, fn := range cat.Functionality {
		delete(want, fn)
	}
	for missing := range want {
		t.Errorf("functionality %q not detected", missing)
	}
}

func TestClassifyUnparseableFallsBack(t *testing.T) {
	cat := Classify("")
	if cat.PrimaryIndustry == "" || cat.WebsiteType == "" {
		t.Fatal("labels must never be empty")
	}
}

func TestBudgetTable(t *testing.T) {
	cases := []struct {
		name             string
		page             string
		wantPages        int
		wantDepth        int
		wantTerm         string
		renderAggressive bool
	}{
		{"banking", bankingPage, 250, 4, "login", true},
		{"ecommerce", shopPage, 250, 3, "checkout", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			budget := BudgetFor(Classify(tc.page))
			if budget.MaxPages != tc.wantPages || budget.MaxDepth != tc.wantDepth {
				t.Errorf("budget = %d pages / depth %d, want %d/%d", budget.MaxPages, budget.MaxDepth, tc.wantPages, tc.wantDepth)
			}
			if budget.RenderAggressive != tc.renderAggressive {
				t.Errorf("RenderAggressive = %v, want %v", budget.RenderAggressive, tc.renderAggressive)
			}
			found := false
			for _, term := range budget.PriorityTerms {
				if term == tc.wantTerm {
					found = true
				}
			}
			if !found {
				t.Errorf("priority terms %v missing %q", budget.PriorityTerms, tc.wantTerm)
			}
		})
	}
}

func TestBudgetDefaults(t *testing.T) {
	budget := BudgetFor(nil)
	if budget.MaxPages != 200 || budget.MaxDepth != 3 {
		t.Errorf("default budget = %d/%d, want 200/3", budget.MaxPages, budget.MaxDepth)
	}
	if len(budget.PriorityTerms) != 0 || budget.RenderAggressive {
		t.Error("default budget must have no priority terms and no aggressive rendering")
	}
}

func TestAudienceDetection(t *testing.T) {
	cat := Classify(`<html><body><p>enterprise wholesale business solutions for business</p></body></html>`)
	if cat.TargetAudience != "B2B" {
		t.Errorf("TargetAudience = %q, want B2B", cat.TargetAudience)
	}
	if !strings.Contains("B2B B2C General", cat.TargetAudience) {
		t.Errorf("unexpected audience label %q", cat.TargetAudience)
	}
}
