// Package mathapi is the small arithmetic HTTP service the http.* tasks
// call, together with its client.
//
// Every operation answers GET /<op>?x=..&y=.. with {"result": n} after a
// fixed artificial latency. Division by zero yields 0.
package mathapi
