package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/civictext/permitbot/internal/pipeline"
	"github.com/civictext/permitbot/internal/selector"
)

// listingRow is one visible row scraped from the permit listing. Cells
// holds the per-cell text in document order.
type listingRow struct {
	Selector string   `json:"selector"`
	Index    int      `json:"index"`
	Cells    []string `json:"cells"`
}

// rowsScript finds the first row selector that yields visible elements
// and returns their cell texts. The selectors are injected as a JSON
// array.
const rowsScript = `(() => {
	const sels = %s;
	const cellText = (el) => {
		const cells = el.querySelectorAll("td, th, .cell, li > span");
		if (cells.length) {
			return Array.from(cells).map(c => c.innerText.replace(/\s+/g, " ").trim());
		}
		return [el.innerText.replace(/\s+/g, " ").trim()];
	};
	for (const sel of sels) {
		const rows = Array.from(document.querySelectorAll(sel))
			.filter(el => el.offsetParent !== null);
		if (rows.length) {
			return rows.map((el, i) => ({selector: sel, index: i, cells: cellText(el)}));
		}
	}
	return [];
})()`

// detailScript pulls logical fields from the detail page: class-named
// elements first, then dt/dd pairs, then label-adjacent cells. The
// field spec is injected as JSON.
const detailScript = `(() => {
	const fields = %s;
	const clean = (s) => (s || "").replace(/\s+/g, " ").trim();
	const bySelector = (sels) => {
		for (const sel of sels) {
			let el;
			try { el = document.querySelector(sel); } catch (e) { continue; }
			if (el && clean(el.innerText)) return clean(el.innerText);
		}
		return "";
	};
	const byLabel = (labels) => {
		const holders = document.querySelectorAll("dt, th, label, .label");
		for (const holder of holders) {
			const text = clean(holder.innerText).toLowerCase();
			for (const label of labels) {
				if (!text.includes(label.toLowerCase())) continue;
				const sib = holder.nextElementSibling;
				if (sib && clean(sib.innerText)) return clean(sib.innerText);
				const cell = holder.closest("tr") &&
					holder.closest("tr").querySelector("td:last-child");
				if (cell && clean(cell.innerText)) return clean(cell.innerText);
			}
		}
		return "";
	};
	const out = {};
	for (const f of fields) {
		const v = bySelector(f.selectors) || byLabel(f.labels);
		if (v) out[f.field] = v;
	}
	return out;
})()`

const clickRowScript = `(() => {
	const rows = Array.from(document.querySelectorAll(%q))
		.filter(el => el.offsetParent !== null);
	const row = rows[%d];
	if (!row) return false;
	const link = row.querySelector("a");
	(link || row).click();
	return true;
})()`

var permitNumberPattern = regexp.MustCompile(`(?i)\b[A-Z]{0,4}-?\d{2,}[A-Z0-9/-]*\b`)

var statusWords = []string{
	"open", "issued", "in review", "under review", "pending",
	"approved", "expired", "finaled", "closed", "on hold",
}

// SearchByNumber locates a permit by its number in the listing. A
// missing permit is a business outcome (found=false, nil error), not a
// failure. The listing is assumed complete when no search box exists.
func (s *Session) SearchByNumber(ctx context.Context, rawNumber string) (pipeline.PermitData, bool, error) {
	normalized := pipeline.NormalizePermitNumber(rawNumber)
	if err := s.submitSearch(ctx, normalized); err != nil {
		return pipeline.PermitData{}, false, err
	}
	rows, err := s.listingRows(ctx)
	if err != nil {
		return pipeline.PermitData{}, false, err
	}
	idx := matchRowByNumber(rows, normalized)
	if idx < 0 {
		return pipeline.PermitData{}, false, nil
	}
	return s.openRow(ctx, rows[idx])
}

// SearchByAddress locates a permit whose row text contains the address
// as a case-insensitive substring.
func (s *Session) SearchByAddress(ctx context.Context, address string) (pipeline.PermitData, bool, error) {
	if err := s.submitSearch(ctx, address); err != nil {
		return pipeline.PermitData{}, false, err
	}
	rows, err := s.listingRows(ctx)
	if err != nil {
		return pipeline.PermitData{}, false, err
	}
	idx := matchRowByAddress(rows, address)
	if idx < 0 {
		return pipeline.PermitData{}, false, nil
	}
	return s.openRow(ctx, rows[idx])
}

// ScrapeDetails reads whatever detail fields the current page exposes.
// Best-effort: fields the markup does not express stay empty.
func (s *Session) ScrapeDetails(ctx context.Context) (pipeline.PermitData, error) {
	spec, err := json.Marshal(detailFields)
	if err != nil {
		return pipeline.PermitData{}, fmt.Errorf("marshal detail fields: %w", err)
	}

	var raw map[string]string
	stepCtx, cancel := context.WithTimeout(ctx, s.cfg.NavTimeout)
	defer cancel()
	script := fmt.Sprintf(detailScript, spec)
	if err := s.probe().run(stepCtx, chromedp.Evaluate(script, &raw)); err != nil {
		return pipeline.PermitData{}, s.classify(fmt.Errorf("scrape details: %w", err))
	}

	data := pipeline.PermitData{
		PermitNumber:  raw["permit_number"],
		Address:       raw["address"],
		Type:          raw["type"],
		Status:        raw["status"],
		LastAction:    raw["last_action"],
		NextAction:    raw["next_action"],
		SubmittedDate: raw["submitted_date"],
	}
	if url, err := s.CurrentURL(ctx); err == nil {
		data.URL = url
	}
	return data, nil
}

// ListOpenPermits extracts up to limit permits from the visible
// listing rows. Rows that yield neither a permit number nor an address
// are skipped; zero valid rows is a normal outcome.
func (s *Session) ListOpenPermits(ctx context.Context, limit int) ([]pipeline.PermitData, error) {
	rows, err := s.listingRows(ctx)
	if err != nil {
		return nil, err
	}
	permits := make([]pipeline.PermitData, 0, limit)
	for _, row := range rows {
		if len(permits) >= limit {
			break
		}
		permit := permitFromRow(row)
		if permit.PermitNumber == "" && permit.Address == "" {
			continue
		}
		permits = append(permits, permit)
	}
	return permits, nil
}

// OpenInspectionRequest finds the permit, follows its inspection
// sub-page, and returns the deep link URL. The request itself is never
// submitted on the applicant's behalf.
func (s *Session) OpenInspectionRequest(ctx context.Context, permitNumber string) (string, bool, error) {
	_, found, err := s.SearchByNumber(ctx, permitNumber)
	if err != nil {
		return "", false, err
	}
	if !found {
		return "", false, nil
	}

	loc, ok := selector.FirstVisible(ctx, s.probe(), inspectionLinkCandidates, s.cfg.ProbeTimeout)
	if !ok {
		return "", false, pipeline.NavigationError("inspection sub-page", nil)
	}
	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavTimeout)
	defer cancel()
	if err := s.probe().click(navCtx, loc); err != nil {
		return "", false, s.classify(fmt.Errorf("open inspection page: %w", err))
	}
	if err := s.probe().run(navCtx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return "", false, s.classify(fmt.Errorf("inspection page settle: %w", err))
	}
	url, err := s.CurrentURL(ctx)
	if err != nil {
		return "", false, err
	}
	return url, true, nil
}

// submitSearch fills the listing search box when one exists and waits
// for the results to settle. No search box means the listing already
// shows the full result set.
func (s *Session) submitSearch(ctx context.Context, query string) error {
	box, ok := selector.FirstVisible(ctx, s.probe(), searchBoxCandidates, s.cfg.ProbeTimeout)
	if !ok {
		return nil
	}
	stepCtx, cancel := context.WithTimeout(ctx, s.cfg.NavTimeout)
	defer cancel()

	err := s.probe().run(stepCtx,
		chromedp.Clear(box.Value, chromedp.ByQuery),
		chromedp.SendKeys(box.Value, query, chromedp.ByQuery),
	)
	if err != nil {
		return s.classify(fmt.Errorf("fill search box: %w", err))
	}

	if submit, ok := selector.FirstVisible(ctx, s.probe(), searchSubmitCandidates, s.cfg.ProbeTimeout); ok {
		if err := s.probe().click(stepCtx, submit); err != nil {
			return s.classify(fmt.Errorf("submit search: %w", err))
		}
	} else {
		if err := s.probe().run(stepCtx, chromedp.SendKeys(box.Value, "\n", chromedp.ByQuery)); err != nil {
			return s.classify(fmt.Errorf("submit search: %w", err))
		}
	}

	err = s.probe().run(stepCtx,
		chromedp.Sleep(500*time.Millisecond),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return s.classify(fmt.Errorf("search settle: %w", err))
	}
	return nil
}

func (s *Session) listingRows(ctx context.Context) ([]listingRow, error) {
	sels, err := json.Marshal(rowSelectors)
	if err != nil {
		return nil, fmt.Errorf("marshal row selectors: %w", err)
	}
	var rows []listingRow
	stepCtx, cancel := context.WithTimeout(ctx, s.cfg.NavTimeout)
	defer cancel()
	script := fmt.Sprintf(rowsScript, sels)
	if err := s.probe().run(stepCtx, chromedp.Evaluate(script, &rows)); err != nil {
		return nil, s.classify(fmt.Errorf("extract listing rows: %w", err))
	}
	return rows, nil
}

// openRow clicks a matched row and scrapes the resulting detail page.
func (s *Session) openRow(ctx context.Context, row listingRow) (pipeline.PermitData, bool, error) {
	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavTimeout)
	defer cancel()

	var clicked bool
	script := fmt.Sprintf(clickRowScript, row.Selector, row.Index)
	if err := s.probe().run(navCtx, chromedp.Evaluate(script, &clicked)); err != nil {
		return pipeline.PermitData{}, false, s.classify(fmt.Errorf("click row: %w", err))
	}
	if !clicked {
		// The row vanished between extraction and click (layout
		// drift mid-job); report not found rather than guessing.
		return pipeline.PermitData{}, false, nil
	}
	err := s.probe().run(navCtx,
		chromedp.Sleep(500*time.Millisecond),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return pipeline.PermitData{}, false, s.classify(fmt.Errorf("detail settle: %w", err))
	}

	data := permitFromRow(row)
	if url, err := s.CurrentURL(ctx); err == nil {
		data.URL = url
	}
	return data, true, nil
}

// matchRowByNumber returns the index of the first row containing the
// normalized permit number, or -1.
func matchRowByNumber(rows []listingRow, normalized string) int {
	if normalized == "" {
		return -1
	}
	for i, row := range rows {
		for _, cell := range row.Cells {
			if strings.Contains(pipeline.NormalizePermitNumber(cell), normalized) {
				return i
			}
		}
	}
	return -1
}

// matchRowByAddress returns the index of the first row whose text
// contains the address, case-insensitively, or -1.
func matchRowByAddress(rows []listingRow, address string) int {
	needle := strings.ToLower(strings.TrimSpace(address))
	if needle == "" {
		return -1
	}
	for i, row := range rows {
		haystack := strings.ToLower(strings.Join(row.Cells, " "))
		if strings.Contains(haystack, needle) {
			return i
		}
	}
	return -1
}

// permitFromRow fills a partial PermitData from row cells: the first
// permit-number-shaped cell, the first address-shaped cell, and the
// first cell matching a known status word.
func permitFromRow(row listingRow) pipeline.PermitData {
	var data pipeline.PermitData
	for _, cell := range row.Cells {
		trimmed := strings.TrimSpace(cell)
		if trimmed == "" {
			continue
		}
		switch {
		case data.PermitNumber == "" && looksLikePermitCell(trimmed):
			data.PermitNumber = trimmed
		case data.Status == "" && looksLikeStatusCell(trimmed):
			data.Status = trimmed
		case data.Address == "" && looksLikeAddressCell(trimmed):
			data.Address = trimmed
		}
	}
	return data
}

func looksLikePermitCell(cell string) bool {
	return !strings.Contains(cell, " ") && permitNumberPattern.MatchString(cell)
}

func looksLikeStatusCell(cell string) bool {
	lower := strings.ToLower(cell)
	for _, word := range statusWords {
		if lower == word {
			return true
		}
	}
	return false
}

// looksLikeAddressCell accepts "<number> <words>" shapes.
func looksLikeAddressCell(cell string) bool {
	fields := strings.Fields(cell)
	if len(fields) < 2 {
		return false
	}
	first := fields[0]
	for _, r := range first {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
