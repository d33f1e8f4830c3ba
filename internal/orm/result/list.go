package result

import "github.com/conduit-lang/crudkit/internal/orm/includes"

// ListResult is one page of a list operation
type ListResult[T any] struct {
	WasSuccessful bool   `json:"wasSuccessful"`
	Message       string `json:"message,omitempty"`
	List          []T    `json:"list"`
	Page          int    `json:"page"`
	PageSize      int    `json:"pageSize"`
	PageCount     int    `json:"pageCount"`
	TotalCount    int    `json:"totalCount"`
	// IncludeTree records which relations of the items were loaded
	IncludeTree *includes.Tree `json:"-"`
}

// List returns a successful page. PageCount is derived from total and size.
func List[T any](items []T, page, pageSize, total int, tree *includes.Tree) ListResult[T] {
	if items == nil {
		items = []T{}
	}
	return ListResult[T]{
		WasSuccessful: true,
		List:          items,
		Page:          page,
		PageSize:      pageSize,
		PageCount:     PageCount(total, pageSize),
		TotalCount:    total,
		IncludeTree:   tree,
	}
}

// ListFailure returns a failed list result carrying msg
func ListFailure[T any](msg string) ListResult[T] {
	return ListResult[T]{Message: msg, List: []T{}}
}

// PageCount is the number of pages needed for total rows. It is at least 1.
func PageCount(total, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 1
	}
	return (total + pageSize - 1) / pageSize
}

// MapList converts every item with fn, keeping paging and status
func MapList[T, U any](r ListResult[T], fn func(T, *includes.Tree) U) ListResult[U] {
	out := ListResult[U]{
		WasSuccessful: r.WasSuccessful,
		Message:       r.Message,
		List:          make([]U, 0, len(r.List)),
		Page:          r.Page,
		PageSize:      r.PageSize,
		PageCount:     r.PageCount,
		TotalCount:    r.TotalCount,
		IncludeTree:   r.IncludeTree,
	}
	for _, item := range r.List {
		out.List = append(out.List, fn(item, r.IncludeTree))
	}
	return out
}
