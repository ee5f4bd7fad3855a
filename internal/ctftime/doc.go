// Package ctftime is the ctftime.org EventSource: the JSON events API, the
// team lookup API and the event page, scraped for rosters and scoreboards.
package ctftime
