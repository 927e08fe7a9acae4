package jobs

import (
	"fmt"
	"net/url"
	"strings"
)

// ShareLinks are the ways a job can be passed on.
type ShareLinks struct {
	URL      string `json:"url"`
	LinkedIn string `json:"linkedin"`
	Twitter  string `json:"twitter"`
	Email    string `json:"email"`
}

// Share builds the links of j on the site rooted at baseURL.
func Share(baseURL, company string, j Job) ShareLinks {
	link := strings.TrimRight(baseURL, "/") + "/jobs/" + url.PathEscape(j.ID)
	u := encodeComponent(link)
	text := encodeComponent(fmt.Sprintf("Check out this %s role at %s!", j.Title, company))
	return ShareLinks{
		URL:      link,
		LinkedIn: "https://www.linkedin.com/sharing/share-offsite/?url=" + u,
		Twitter:  "https://twitter.com/intent/tweet?text=" + text + "&url=" + u,
		Email:    "mailto:?subject=" + encodeComponent("Job Opportunity: "+j.Title) + "&body=" + text + "%0A%0A" + u,
	}
}

// encodeComponent escapes s for use inside a query value, with spaces as %20
// so the result also works in mailto links.
func encodeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
