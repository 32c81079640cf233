package social

import (
	"sort"

	"github.com/VoiceraAI/voicera-mvp/engine/domain"
)

// Weights is the per-source engagement formula. Scores rank content, they
// never filter it.
type Weights struct {
	Like  float64
	Share float64
	Reply float64
}

// WeightsFor returns the scoring formula for a source. Shares are the
// strongest signal everywhere; LinkedIn reshares are rarer still, so they
// weigh more there.
func WeightsFor(source domain.SourceType) Weights {
	if source == domain.SourceLinkedIn {
		return Weights{Like: 1, Share: 3, Reply: 2}
	}
	return Weights{Like: 1, Share: 2, Reply: 1}
}

// Score computes the weighted engagement score of one post.
func (w Weights) Score(p Post) float64 {
	return w.Like*float64(p.Likes) + w.Share*float64(p.Shares) + w.Reply*float64(p.Replies)
}

// Rank returns the topN posts by engagement score, highest first. It is a
// pure function over the raw result set: ties break by URL so repeated runs
// rank identically.
func Rank(posts []Post, w Weights, topN int) []Post {
	ranked := make([]Post, len(posts))
	copy(ranked, posts)
	sort.Slice(ranked, func(i, j int) bool {
		si, sj := w.Score(ranked[i]), w.Score(ranked[j])
		if si != sj {
			return si > sj
		}
		return ranked[i].URL < ranked[j].URL
	})
	if topN > 0 && len(ranked) > topN {
		ranked = ranked[:topN]
	}
	return ranked
}
