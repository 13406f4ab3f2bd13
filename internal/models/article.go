package models

// Article is the scraped summary of the newest article. It is not persisted.
type Article struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Summary     string `json:"summary"`
	PublishTime string `json:"publish_time"`
}
