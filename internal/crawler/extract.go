package crawler

import (
	"iter"
	"time"

	"sjsage522/cardledger/helpers"
	"sjsage522/cardledger/pkg/errors"

	"github.com/PuerkitoBio/goquery"
)

// OrderDateLayout is the listing date format: day.month.two-digit-year
const OrderDateLayout = "2.1.06"

// Selectors contains CSS selectors for the order listing markup
type Selectors struct {
	TableBody string
	Row       string
	OrderID   string
	Date      string
	User      string
	Status    string
	Total     string
	NextPage  string
}

// DefaultSelectors returns the selectors of the marketplace order tables
func DefaultSelectors() Selectors {
	return Selectors{
		TableBody: "div.table-body",
		Row:       "div.row",
		OrderID:   ".col-orderId",
		Date:      ".col-date",
		User:      ".col-user",
		Status:    ".col-status",
		Total:     ".col-total",
		NextPage:  `a[aria-label="Next Page"]`,
	}
}

// Extractor turns a listing page into rows. All knowledge of the page markup
// lives here.
type Extractor struct {
	Selectors Selectors
}

// NewExtractor creates a new row extractor
func NewExtractor(selectors Selectors) *Extractor {
	return &Extractor{Selectors: selectors}
}

// Rows yields the rows of the page's table body that carry an order id.
// Other fields default to empty strings when missing.
func (e *Extractor) Rows(page *Page) iter.Seq[RawRow] {
	return func(yield func(RawRow) bool) {
		if page == nil || page.Doc == nil {
			return
		}
		rows := page.Doc.Find(e.Selectors.TableBody).First().Find(e.Selectors.Row)
		for i := range rows.Length() {
			row, ok := e.extractRow(rows.Eq(i))
			if !ok {
				continue
			}
			if !yield(row) {
				return
			}
		}
	}
}

func (e *Extractor) extractRow(s *goquery.Selection) (RawRow, bool) {
	id := fieldText(s, e.Selectors.OrderID)
	if id == "" {
		return RawRow{}, false
	}
	return RawRow{
		OrderID:      id,
		Date:         fieldText(s, e.Selectors.Date),
		Counterparty: fieldText(s, e.Selectors.User),
		Status:       fieldText(s, e.Selectors.Status),
		Total:        fieldText(s, e.Selectors.Total),
	}, true
}

// HasNextPage reports whether the page links to a following page
func (e *Extractor) HasNextPage(page *Page) bool {
	if page == nil || page.Doc == nil {
		return false
	}
	return page.Doc.Find(e.Selectors.NextPage).Length() > 0
}

func fieldText(s *goquery.Selection, selector string) string {
	sel := s.Find(selector).First()
	if sel.Length() == 0 {
		return ""
	}
	return helpers.CleanText(sel.Text())
}

// ParseOrderDate parses "d.m.yy" with an optional trailing time, which is dropped.
func ParseOrderDate(text string) (time.Time, error) {
	datePart := helpers.FirstField(text)
	t, err := time.Parse(OrderDateLayout, datePart)
	if err != nil {
		return time.Time{}, errors.NewParsing("row", "unparsable order date "+text, err)
	}
	return t, nil
}

// NewRecord builds the record for a row. A date parsing error is returned
// alongside a usable record with a zero Date.
func NewRecord(row RawRow, section Section) (OrderRecord, error) {
	record := OrderRecord{
		ID:           row.OrderID,
		RawDate:      row.Date,
		Counterparty: row.Counterparty,
		Status:       row.Status,
		Total:        row.Total,
		Section:      section,
	}
	date, err := ParseOrderDate(row.Date)
	if err != nil {
		return record, err
	}
	record.Date = date
	return record, nil
}
