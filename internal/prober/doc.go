// Package prober measures how quickly each candidate address answers for a
// target host. A round issues one HTTPS request per candidate, all bounded
// by their own timeout, and reports a result per candidate in pool order.
package prober
