// Package collector assembles the full patient list from the paginated
// patients API.
//
// A run moves through fetching_first_page, fetching_remaining_pages and
// complete. Page 1 decides the page count; failing it after retries ends
// the run in failed. Pages 2..N are dispatched with a stagger between
// dispatches, each under the shared retry policy, and a page that runs out
// of retries is skipped. The run is complete once no page is pending,
// whether or not every page succeeded.
//
// Progress can be polled with Progress or followed with Subscribe. Merged
// patients are ordered by page index regardless of completion order.
package collector
