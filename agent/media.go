package agent

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/contentflow/contentflow/internal/storage"
	"github.com/contentflow/contentflow/types"
)

// MediaAgent produces image, audio and video production specs for the
// article and archives each spec in blob storage. The three sub-agents run
// concurrently; any failure fails the stage.
type MediaAgent struct {
	image *BaseAgent
	audio *BaseAgent
	video *BaseAgent
	blobs *storage.BlobStore
}

// NewMediaAgent 创建媒体 agent
func NewMediaAgent(deps Deps, opts Options, blobs *storage.BlobStore) *MediaAgent {
	return &MediaAgent{
		image: newBase("image", deps, opts),
		audio: newBase("audio", deps, opts),
		video: newBase("video", deps, opts),
		blobs: blobs,
	}
}

// Name implements Agent.
func (a *MediaAgent) Name() string { return "media" }

// Run implements Agent.
func (a *MediaAgent) Run(ctx context.Context, p *types.Project) error {
	title := stringField(p.SEO, "optimized_title", p.Topic)
	body := stringField(p.SEO, "optimized_body", "")
	summary := stringField(p.Draft, "summary", firstParagraph(body))

	results := make(map[string]any, 3)
	var totalCost float64
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, spec := range []struct {
		kind string
		base *BaseAgent
		vars map[string]string
	}{
		{"images", a.image, map[string]string{"title": title, "summary": summary}},
		{"audio", a.audio, map[string]string{"title": title, "body": body}},
		{"video", a.video, map[string]string{"title": title, "summary": summary}},
	} {
		g.Go(func() error {
			doc, cost, err := spec.base.complete(gctx, p.ID, "media", spec.vars)
			if err != nil {
				return err
			}

			if a.blobs != nil {
				blobID, err := a.blobs.Upload(gctx, p.ID,
					spec.kind+"_spec.json", "application/json",
					strings.NewReader(compactJSON(doc)),
				)
				if err != nil {
					return err
				}
				doc["blob_id"] = blobID
			}

			mu.Lock()
			results[spec.kind] = doc
			totalCost += cost
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	p.Media = results
	p.AddCost("media", totalCost)
	return nil
}

func firstParagraph(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.Index(text, "\n\n"); idx > 0 {
		return strings.TrimSpace(text[:idx])
	}
	return text
}
