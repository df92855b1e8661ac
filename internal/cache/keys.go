package cache

import (
	"fmt"
	"time"
)

// PostTTL is the default lifetime of a cached post lookup. Posts change
// rarely, but deactivation must show up quickly.
const PostTTL = 30 * time.Second

// PostKey caches the active post row behind engagement existence checks.
func PostKey(postID uint) string {
	return fmt.Sprintf("cache:post:%d", postID)
}

// FeedKey addresses one computed feed page. variant encodes scope, filters
// and pagination; generation is the viewer's feed version, so bumping it
// orphans every cached page at once.
func FeedKey(viewerID uint, generation int64, variant string) string {
	return fmt.Sprintf("feedcache:%d:g%d:%s", viewerID, generation, variant)
}

// FeedStaleKey is the long-lived copy served when the feed query times out.
func FeedStaleKey(viewerID uint, variant string) string {
	return fmt.Sprintf("feedcache:%d:stale:%s", viewerID, variant)
}
