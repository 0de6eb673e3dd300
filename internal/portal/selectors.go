package portal

import "github.com/civictext/permitbot/internal/selector"

// Candidate locator tables for every portal interaction. Order is
// priority: the most specific markup a known portal skin uses first,
// the loosest structural guess last. The portal DOM is not ours and
// drifts across deployments; these lists are the only place that
// knowledge lives.

var usernameFieldCandidates = []selector.Locator{
	selector.CSS(`input[type="email"], input[name="email"], input[name="username"], #username`),
}

var passwordFieldCandidates = []selector.Locator{
	selector.CSS(`input[type="password"]`),
}

var loginSubmitCandidates = []selector.Locator{
	selector.CSS(`button[type="submit"], input[type="submit"]`),
}

var loginErrorCandidates = []selector.Locator{
	selector.CSS(`.error, .alert-danger, .validation-error, [role="alert"]`),
}

var loggedInCandidates = []selector.Locator{
	selector.Text("Log Out"),
	selector.Text("Sign Out"),
	selector.CSS(`a[href*="logout"], a[href*="signout"]`),
	selector.CSS(`.user-menu, #account-menu`),
}

// listingNavStrategies are the three escalating ways to reach the
// permit listing, tried as ordered groups: a direct link, a link
// inside a navigation container, then any anchor whose href mentions
// permits or applications.
var listingNavStrategies = [][]selector.Locator{
	{
		selector.Text("My Permits"),
		selector.Text("My Applications"),
		selector.CSS(`a[href*="my-permits"], #my-permits`),
	},
	{
		selector.CSS(`nav a[href*="permit"]`),
		selector.CSS(`.menu a[href*="permit"], .navbar a[href*="permit"]`),
		selector.CSS(`nav a[href*="application"]`),
	},
	{
		selector.CSS(`a[href*="permit"]`),
		selector.CSS(`a[href*="application"]`),
	},
}

var searchBoxCandidates = []selector.Locator{
	selector.CSS(`input[type="search"]`),
	selector.CSS(`input[name*="search"], input[placeholder*="earch"]`),
	selector.CSS(`#search, .search-input`),
}

var searchSubmitCandidates = []selector.Locator{
	selector.CSS(`button[type="submit"]`),
	selector.Text("Search"),
}

var inspectionLinkCandidates = []selector.Locator{
	selector.Text("Request Inspection"),
	selector.Text("Schedule Inspection"),
	selector.CSS(`a[href*="inspection"]`),
	selector.Text("Inspections"),
}

// rowSelectors are the CSS guesses for permit listing rows, tried in
// order until one yields any elements.
var rowSelectors = []string{
	`table tbody tr`,
	`.permit-row`,
	`[class*="permit"] tr, [class*="permit"] li`,
	`.results-list li, .result-row`,
}

// detailField describes one logical permit field and the ways its
// value may be expressed in the detail page markup: label-adjacent
// cells (th/td, label text), definition-list dt/dd pairs, and
// class-named elements. Scraping is best-effort; missing fields stay
// absent.
type detailField struct {
	Field     string   `json:"field"`
	Labels    []string `json:"labels"`
	Selectors []string `json:"selectors"`
}

var detailFields = []detailField{
	{Field: "permit_number", Labels: []string{"Permit Number", "Permit #", "Record Number"}, Selectors: []string{`[class*="permit-number"]`, `[class*="record-number"]`}},
	{Field: "address", Labels: []string{"Address", "Site Address", "Location"}, Selectors: []string{`[class*="address"]`}},
	{Field: "type", Labels: []string{"Permit Type", "Type"}, Selectors: []string{`[class*="permit-type"]`}},
	{Field: "status", Labels: []string{"Status"}, Selectors: []string{`[class*="status"]`}},
	{Field: "last_action", Labels: []string{"Last Action", "Last Activity"}, Selectors: []string{`[class*="last-action"]`}},
	{Field: "next_action", Labels: []string{"Next Action", "Next Step"}, Selectors: []string{`[class*="next-action"]`}},
	{Field: "submitted_date", Labels: []string{"Submitted", "Application Date", "Applied"}, Selectors: []string{`[class*="submitted"]`, `[class*="applied"]`}},
}
