package engine

import (
	"strings"

	"postwatch/internal/content"
	"postwatch/internal/schedule"
	logx "postwatch/pkg/logx"
)

// Classifier applies one change under the schedule directory to the index.
type Classifier struct {
	posts  Posts
	index  *schedule.Index
	layout Layout
	notify func()
	log    logx.Logger
}

func NewClassifier(posts Posts, index *schedule.Index, layout Layout, notify func(), log logx.Logger) *Classifier {
	if notify == nil {
		notify = func() {}
	}
	return &Classifier{posts: posts, index: index, layout: layout, notify: notify, log: log}
}

// Classify handles the absolute path p:
//   - p gone: its entry (and any entry below it, for a moved directory) is
//     removed; the scheduler is notified only if something was removed
//   - p present with a readable date: upserted, scheduler notified
//   - p present without one: reported, index untouched
func (c *Classifier) Classify(p string) {
	key := c.layout.Key(p)

	if !c.posts.Exists(p) {
		removed := c.index.Remove(key)
		prefix := key + "/"
		for _, k := range c.index.Paths() {
			if strings.HasPrefix(k, prefix) && c.index.Remove(k) {
				removed = true
			}
		}
		if removed {
			c.log.Info("post unscheduled", logx.String("path", key))
			c.notify()
		}
		return
	}

	if !content.Schedulable(p) {
		return
	}
	at, err := c.posts.ExtractScheduledInstant(p)
	if err != nil {
		c.log.Warn("cannot read scheduled date", logx.String("path", key), logx.Err(err))
		return
	}
	if c.index.Upsert(key, at) {
		c.log.Info("post scheduled", logx.String("path", key), logx.Time("at", at))
	}
	c.notify()
}
