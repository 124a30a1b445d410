package engine

import (
	"context"

	"postwatch/internal/watch"
	logx "postwatch/pkg/logx"
)

// Router dispatches debounced changes: schedule directory to the classifier,
// drafts directory nowhere, everything else to a site rebuild.
type Router struct {
	layout   Layout
	classify *Classifier
	rebuild  Rebuilder
	log      logx.Logger
}

func NewRouter(layout Layout, classify *Classifier, rebuild Rebuilder, log logx.Logger) *Router {
	return &Router{layout: layout, classify: classify, rebuild: rebuild, log: log}
}

// Route handles one change. Errors are reported, never returned.
func (r *Router) Route(ctx context.Context, ch watch.Change) {
	switch {
	// the schedule directory usually lives inside the drafts directory
	case r.layout.InSchedule(ch.Path):
		r.classify.Classify(ch.Path)
	case r.layout.InDrafts(ch.Path):
		r.log.Trace("draft change ignored", logx.String("path", ch.Rel))
	default:
		if r.rebuild == nil {
			return
		}
		if err := r.rebuild.RebuildSite(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Error("site rebuild failed", logx.String("trigger", ch.Rel), logx.Err(err))
			return
		}
		r.log.Info("site rebuilt", logx.String("trigger", ch.Rel))
	}
}

// Run routes changes until ctx is done.
func (r *Router) Run(ctx context.Context, changes <-chan watch.Change) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ch := <-changes:
			r.Route(ctx, ch)
		}
	}
}
