package catalog

// Entry is one podcast as returned by the lookup API.
type Entry struct {
	CollectionID int64    `json:"collectionId"`
	Name         string   `json:"collectionName"`
	Author       string   `json:"artistName"`
	AuthorURL    string   `json:"artistViewUrl"`
	FeedURL      string   `json:"feedUrl"`
	Image        string   `json:"artworkUrl600"`
	Genres       []string `json:"genres"`
	Link         string   `json:"collectionViewUrl"`
}

type lookupResponse struct {
	ResultCount int     `json:"resultCount"`
	Results     []Entry `json:"results"`
}
