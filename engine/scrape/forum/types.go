// Package forum scrapes XenForo-style forum boards in two passes: an index of
// thread listings, then the content of each thread ordered by engagement.
package forum

import "time"

// Board is one sub-forum to index.
type Board struct {
	Name string // checkpoint and metadata key, e.g. "80_series_tech"
	Path string // listing path relative to the base URL, ending in "/"
}

// DefaultBoards are the FZJ80 boards on IH8MUD.
func DefaultBoards() []Board {
	return []Board{
		{Name: "80_series_tech", Path: "forums/80-series-tech.9/"},
		{Name: "fzj80_subforum", Path: "forums/fj80-fzj80-lx450-hdj81.325/"},
		{Name: "newbie_tech", Path: "forums/newbie-tech.162/"},
	}
}

// IndexEntry is one thread row from a listing page, one line of
// thread_index.jsonl.
type IndexEntry struct {
	ThreadID     string `json:"thread_id"`
	Title        string `json:"title"`
	URL          string `json:"url"`
	Replies      int    `json:"replies"`
	Views        int    `json:"views"`
	LastActivity string `json:"last_activity"`
	Forum        string `json:"forum"`
}

// Engagement ranks threads for the content pass.
func (e IndexEntry) Engagement() float64 {
	return float64(e.Replies)*0.3 + float64(e.Views)*0.01
}

// Post is one message in a thread.
type Post struct {
	PostID     string  `json:"post_id,omitempty"`
	Author     string  `json:"author"`
	Date       *string `json:"date"`
	Content    string  `json:"content"`
	Likes      int     `json:"likes,omitempty"`
	Votes      int     `json:"votes,omitempty"`
	IsOP       bool    `json:"is_op,omitempty"`
	IsSolution bool    `json:"is_solution"`
}

// Score returns the post's vote count, whichever field carried it.
func (p Post) Score() int { return max(p.Likes, p.Votes) }

// Thread is the raw record written to threads/{id}.json.
type Thread struct {
	ThreadID     string  `json:"thread_id"`
	Title        string  `json:"title"`
	URL          string  `json:"url"`
	ForumSection string  `json:"forum_section"`
	Category     string  `json:"category,omitempty"`
	Author       string  `json:"author,omitempty"`
	Date         *string `json:"date,omitempty"`
	Views        int     `json:"views"`
	Replies      *int    `json:"replies,omitempty"`
	Posts        []Post  `json:"posts"`
}

// Config controls a forum run.
type Config struct {
	BaseURL        string
	Boards         []Board
	OutDir         string // data/raw/forum
	MaxPages       int    // listing pages per board
	MaxThreads     int    // threads fetched per run, 0 = unlimited
	MaxThreadPages int
	MinPostLength  int
	IndexOnly      bool
	Resume         bool
	RateLimit      time.Duration
}

// DefaultConfig returns the IH8MUD settings.
func DefaultConfig(outDir string) Config {
	return Config{
		BaseURL:        "https://forum.ih8mud.com",
		Boards:         DefaultBoards(),
		OutDir:         outDir,
		MaxPages:       5000,
		MaxThreadPages: 10,
		MinPostLength:  100,
		Resume:         true,
		RateLimit:      2 * time.Second,
	}
}
