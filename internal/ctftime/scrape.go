package ctftime

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"ctfwatch/internal/watch"
)

// parseRoster collects the text of every link inside a table cell.
func parseRoster(page []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	var out []string
	doc.Find("td a").Each(func(_ int, s *goquery.Selection) {
		name := watch.FoldTeam(s.Text())
		if name == "" {
			return
		}
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	})
	return out, nil
}

// parseScoreboard reads the results table. Rows after the header carry
// place, team, points and rating in cells 1 to 4; shorter rows are skipped.
func parseScoreboard(page []byte) ([]watch.TeamScore, string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, "", err
	}
	title := strings.TrimSpace(doc.Find("h2").First().Text())

	var scores []watch.TeamScore
	doc.Find("tr").Each(func(i int, row *goquery.Selection) {
		if i == 0 {
			return
		}
		cells := row.Find("td")
		if cells.Length() < 5 {
			return
		}
		cell := func(n int) string { return strings.TrimSpace(cells.Eq(n).Text()) }
		team := cell(2)
		if team == "" {
			return
		}
		place, _ := strconv.Atoi(cell(1))
		scores = append(scores, watch.TeamScore{
			Team:   team,
			Place:  place,
			Points: parseFloat(cell(3)),
			Rating: parseFloat(cell(4)),
		})
	})
	return scores, title, nil
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0
	}
	return f
}
