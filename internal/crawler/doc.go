// Package crawler walks a catalog API top-down (categories, playlists,
// tracks), enriches the artists each category references in bulk batches and
// hands one CategorySnapshot per category to a Sink.
//
// HTTP concerns (auth, retry, rate limiting) live behind the Getter
// interface; this package only sees decoded pages.
package crawler
