// Package unread keeps the unread badge in line with the server's count.
//
// The server is the only authority: the counter never increments locally.
// Opening a conversation zeroes the badge at once and re-reads the count
// after a short grace delay, giving the read receipt time to land. While no
// conversation is open the count is refreshed periodically, and a failed
// refresh shows zero rather than a stale number.
package unread
