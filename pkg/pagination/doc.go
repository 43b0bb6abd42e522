// Package pagination provides the cursor-based history controller shared by
// list views.
//
// A Controller keeps an ordered history of frames and a position into it:
//
//	ctrl := pagination.New(fetcher, pagination.Config{
//		Endpoint: "/v1/orders",
//		PageSize: 25,
//	})
//	_ = ctrl.ResetAndLoad(ctx, url.Values{"status": []string{"open"}})
//	_ = ctrl.Next(ctx) // fetches page 1 and appends it
//	ctrl.Prev()        // replays page 0 from history, no request
//	state := ctrl.State()
//
// List endpoints may return {items, cursor} or a bare array. Without a cursor
// or has-more flag, a full page (len(items) == limit) means there is more, and
// the next page is requested by offset.
//
// Every fetch carries a token. ResetAndLoad, SetPageSize, Prev and Close
// supersede the in-flight fetch, whose eventual result is dropped without
// touching state. Cancellation never surfaces as StatusError.
package pagination
