// Package crawler defines the domain types shared by the crawl workers,
// publishers and lifecycle: directory entries, file records, families and
// outbound items, the collaborator interfaces they are built against, and
// the listing error taxonomy.
//
// Counters live in Stats and failures in FailureLog; both are owned by one
// crawl and shared by reference with every worker.
package crawler
