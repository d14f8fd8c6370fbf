package feed

import "github.com/blackmichael/clipfeed/internal/domain"

const defaultPageSize = 10

// Cursor is the pagination position of the current scope. Page is the last
// successfully loaded page, 0 before the first load.
type Cursor struct {
	Scope      domain.Scope `json:"scope"`
	Page       int          `json:"page"`
	PageSize   int          `json:"pageSize"`
	TotalCount int          `json:"totalCount"`
	HasMore    bool         `json:"hasMore"`
}

// PageRequest identifies an issued snapshot load. Gen ties the result to
// the pager state it was issued against.
type PageRequest struct {
	Scope domain.Scope
	Page  int
	Gen   uint64
}

// Pager tracks the page cursor and the single in-flight snapshot load.
type Pager struct {
	cursor   Cursor
	inFlight bool
	gen      uint64
}

// NewPager creates a pager for the global scope.
func NewPager(pageSize int) *Pager {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Pager{cursor: Cursor{PageSize: pageSize, HasMore: true}}
}

// Cursor returns the current cursor.
func (p *Pager) Cursor() Cursor {
	return p.cursor
}

// InFlight reports whether a load is outstanding.
func (p *Pager) InFlight() bool {
	return p.inFlight
}

// PageSize returns the configured page size.
func (p *Pager) PageSize() int {
	return p.cursor.PageSize
}

// SetScope resets the cursor when the scope changes. It reports whether
// it did.
func (p *Pager) SetScope(scope domain.Scope) bool {
	if scope == p.cursor.Scope {
		return false
	}
	p.cursor = Cursor{Scope: scope, PageSize: p.cursor.PageSize, HasMore: true}
	// Anything in flight belongs to the old scope.
	p.gen++
	p.inFlight = false
	return true
}

// Begin issues a load of page for scope, superseding any load in flight.
// A scope change always starts over at page 1.
func (p *Pager) Begin(scope domain.Scope, page int) PageRequest {
	if p.SetScope(scope) || page < 1 {
		page = 1
	}
	p.gen++
	p.inFlight = true
	return PageRequest{Scope: scope, Page: page, Gen: p.gen}
}

// MaybeAdvance issues a load of the next page only when the sentinel is
// visible, nothing is in flight and more pages exist.
func (p *Pager) MaybeAdvance(sentinelVisible bool) (PageRequest, bool) {
	if !sentinelVisible || p.inFlight || !p.cursor.HasMore {
		return PageRequest{}, false
	}
	return p.Begin(p.cursor.Scope, p.cursor.Page+1), true
}

// Current reports whether req is the load the pager is waiting for.
func (p *Pager) Current(req PageRequest) bool {
	return p.inFlight && req.Gen == p.gen
}

// Complete advances the cursor after a successful load. It returns false
// for a superseded request, which must then be discarded.
func (p *Pager) Complete(req PageRequest, totalCount int) bool {
	if !p.Current(req) {
		return false
	}
	p.inFlight = false
	p.cursor.Page = req.Page
	p.cursor.TotalCount = totalCount
	p.cursor.HasMore = req.Page < pageCount(totalCount, p.cursor.PageSize)
	return true
}

// Fail clears the in-flight load without moving the cursor. It returns
// false for a superseded request.
func (p *Pager) Fail(req PageRequest) bool {
	if !p.Current(req) {
		return false
	}
	p.inFlight = false
	return true
}

func pageCount(total, size int) int {
	if total <= 0 {
		return 0
	}
	return (total + size - 1) / size
}
